// Package visibility decides which satellites and aircraft are above the
// terrain-masked horizon of the observatory.
package visibility

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/horizon"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/position"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/tle"
)

type Kind string

const (
	KindSatellite Kind = "satellite"
	KindAircraft  Kind = "aircraft"
)

// AircraftGroup is the group id every aircraft is filed under.
const AircraftGroup = "Aircraft"

const (
	// MinAltitudeDeg admits objects slightly below the geometric horizon.
	MinAltitudeDeg = -5.0
	// AircraftMaskSlackDeg lowers the terrain mask for aircraft.
	AircraftMaskSlackDeg = 0.5
)

// Object is one visible satellite or aircraft.
type Object struct {
	Name        string
	Kind        Kind
	GroupID     string
	AzimuthDeg  float64
	AltitudeDeg float64
	DistanceM   float64
	ECEFKm      [3]float64
}

// Resolver turns inputs into observer-relative positions.
type Resolver interface {
	Satellite(p position.Propagator, at time.Time) (position.Position, error)
	Aircraft(a aircraft.State) (position.Position, error)
}

type Engine struct {
	resolver Resolver
	horizon  atomic.Pointer[horizon.Profile]
	logger   fetch.Logger
}

// New builds an engine. A nil profile means a flat horizon.
func New(r Resolver, profile *horizon.Profile, logger fetch.Logger) *Engine {
	e := &Engine{resolver: r, logger: fetch.OrNop(logger)}
	e.SetHorizon(profile)
	return e
}

// SetHorizon swaps the terrain mask. Computations already running keep the old one.
func (e *Engine) SetHorizon(p *horizon.Profile) {
	if p == nil {
		p = horizon.Flat()
	}
	e.horizon.Store(p)
}

func (e *Engine) Horizon() *horizon.Profile {
	return e.horizon.Load()
}

// SatelliteVisible is the strict mask test for satellites.
func SatelliteVisible(p position.Position, mask *horizon.Profile) bool {
	return p.AltitudeDeg > MinAltitudeDeg && p.AltitudeDeg > mask.MaskAltitude(p.AzimuthDeg)
}

// AircraftVisible admits aircraft slightly under the mask, and aircraft that
// are closer than the terrain producing the mask at that azimuth.
func AircraftVisible(p position.Position, mask *horizon.Profile) bool {
	if p.AltitudeDeg <= MinAltitudeDeg {
		return false
	}
	return p.AltitudeDeg > mask.MaskAltitude(p.AzimuthDeg)-AircraftMaskSlackDeg ||
		p.DistanceM < mask.MaskDistance(p.AzimuthDeg)
}

// Compute returns the visible objects at the given instant: satellites in
// input order followed by aircraft in input order. Objects whose position
// cannot be resolved are logged and dropped.
func (e *Engine) Compute(at time.Time, elements []tle.Element, planes []aircraft.State) []Object {
	mask := e.horizon.Load()
	out := make([]Object, 0)

	failed := 0
	for i := range elements {
		el := &elements[i]
		p, err := e.resolveSatellite(el, at)
		if err != nil {
			failed++
			e.logger.Debugf("Dropping satellite %s: %v", el.Name, err)
			continue
		}
		if SatelliteVisible(p, mask) {
			out = append(out, newObject(el.Name, KindSatellite, el.GroupID, p))
		}
	}

	for _, a := range planes {
		p, err := e.resolveAircraft(a)
		if err != nil {
			failed++
			e.logger.Debugf("Dropping aircraft %s: %v", a.Name, err)
			continue
		}
		if AircraftVisible(p, mask) {
			out = append(out, newObject(a.Name, KindAircraft, AircraftGroup, p))
		}
	}

	if failed > 0 {
		e.logger.Warnf("Dropped %d objects that could not be positioned", failed)
	}
	return out
}

// Count splits a result into satellite and aircraft totals.
func Count(objs []Object) (satellites, planes int) {
	for _, o := range objs {
		switch o.Kind {
		case KindSatellite:
			satellites++
		case KindAircraft:
			planes++
		}
	}
	return satellites, planes
}

func (e *Engine) resolveSatellite(el *tle.Element, at time.Time) (p position.Position, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.resolver.Satellite(el, at)
}

func (e *Engine) resolveAircraft(a aircraft.State) (p position.Position, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.resolver.Aircraft(a)
}

func newObject(name string, kind Kind, group string, p position.Position) Object {
	return Object{
		Name:        name,
		Kind:        kind,
		GroupID:     group,
		AzimuthDeg:  p.AzimuthDeg,
		AltitudeDeg: p.AltitudeDeg,
		DistanceM:   p.DistanceM,
		ECEFKm:      p.ECEFKm,
	}
}
