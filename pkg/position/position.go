// Package position resolves satellites and aircraft into topocentric
// coordinates for a fixed observer.
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
)

// Position is where an object sits relative to the observer.
type Position struct {
	AzimuthDeg  float64
	AltitudeDeg float64
	DistanceM   float64
	// ECEFKm is the Earth-fixed position of the object itself.
	ECEFKm [3]float64
}

// Propagator yields a TEME position in km at an instant. tle.Element is one.
type Propagator interface {
	Propagate(t time.Time) (x, y, z float64, err error)
}

// Resolver computes positions for one observer.
type Resolver struct {
	Observer Observer
}

func NewResolver(obs Observer) *Resolver {
	return &Resolver{Observer: obs}
}

// Satellite propagates p to at and converts the result into look angles.
func (r *Resolver) Satellite(p Propagator, at time.Time) (Position, error) {
	tx, ty, tz, err := p.Propagate(at)
	if err != nil {
		return Position{}, err
	}
	xKm, yKm, zKm := TEMEToECEF(tx, ty, tz, GMST(at))
	return r.fromECEF(xKm*1000, yKm*1000, zKm*1000)
}

// Aircraft converts a reported lat/lon/altitude into look angles.
func (r *Resolver) Aircraft(a aircraft.State) (Position, error) {
	if math.IsNaN(a.LatDeg) || math.IsNaN(a.LonDeg) || math.IsNaN(a.AltM) {
		return Position{}, fmt.Errorf("aircraft %q: missing coordinates", a.Name)
	}
	if a.LatDeg < -90 || a.LatDeg > 90 || a.LonDeg < -180 || a.LonDeg > 180 {
		return Position{}, fmt.Errorf("aircraft %q: coordinates out of range (%v, %v)", a.Name, a.LatDeg, a.LonDeg)
	}
	x, y, z := GeodeticToECEF(a.LatDeg, a.LonDeg, a.AltM)
	return r.fromECEF(x, y, z)
}

func (r *Resolver) fromECEF(x, y, z float64) (Position, error) {
	az, alt, dist := r.Observer.LookAngles(x, y, z)
	if math.IsNaN(az) || math.IsNaN(alt) || math.IsNaN(dist) {
		return Position{}, fmt.Errorf("look angles are NaN")
	}
	return Position{
		AzimuthDeg:  az,
		AltitudeDeg: alt,
		DistanceM:   dist,
		ECEFKm:      [3]float64{x / 1000, y / 1000, z / 1000},
	}, nil
}
