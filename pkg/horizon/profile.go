// Package horizon holds the terrain elevation mask around the observatory.
package horizon

import (
	"math"
	"sort"
)

// FlatDistanceM is the mask distance used when no terrain profile is loaded.
const FlatDistanceM = 1e9

// Point is one sample of the terrain horizon.
type Point struct {
	AzimuthDeg  float64
	AltitudeDeg float64
	DistanceM   float64
}

// Profile is an immutable, azimuth-sorted horizon mask. The zero value is not
// usable; build one with NewProfile or Flat.
type Profile struct {
	points  []Point
	wrapped []Point
}

// Flat is the mask used when no terrain data is available: 0 deg everywhere
// and nothing close enough to occlude.
func Flat() *Profile {
	return NewProfile([]Point{
		{AzimuthDeg: 0, AltitudeDeg: 0, DistanceM: FlatDistanceM},
		{AzimuthDeg: 360, AltitudeDeg: 0, DistanceM: FlatDistanceM},
	})
}

// NewProfile sorts points by azimuth, normalizes azimuths into [0, 360), drops
// duplicate azimuths (first one wins) and pre-wraps the seam. An empty input
// yields Flat().
func NewProfile(points []Point) *Profile {
	if len(points) == 0 {
		return Flat()
	}

	norm := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.AzimuthDeg) || math.IsNaN(p.AltitudeDeg) || math.IsNaN(p.DistanceM) {
			continue
		}
		p.AzimuthDeg = normalize(p.AzimuthDeg)
		norm = append(norm, p)
	}
	if len(norm) == 0 {
		return Flat()
	}
	sort.SliceStable(norm, func(i, j int) bool { return norm[i].AzimuthDeg < norm[j].AzimuthDeg })

	uniq := norm[:1]
	for _, p := range norm[1:] {
		if p.AzimuthDeg != uniq[len(uniq)-1].AzimuthDeg {
			uniq = append(uniq, p)
		}
	}

	first, last := uniq[0], uniq[len(uniq)-1]
	wrapped := make([]Point, 0, len(uniq)+2)
	wrapped = append(wrapped, Point{AzimuthDeg: last.AzimuthDeg - 360, AltitudeDeg: last.AltitudeDeg, DistanceM: last.DistanceM})
	wrapped = append(wrapped, uniq...)
	wrapped = append(wrapped, Point{AzimuthDeg: first.AzimuthDeg + 360, AltitudeDeg: first.AltitudeDeg, DistanceM: first.DistanceM})

	return &Profile{points: uniq, wrapped: wrapped}
}

// Points returns a copy of the sorted, unwrapped samples.
func (p *Profile) Points() []Point {
	out := make([]Point, len(p.points))
	copy(out, p.points)
	return out
}

// MaskAltitude is the terrain altitude in degrees at the given azimuth.
func (p *Profile) MaskAltitude(azimuthDeg float64) float64 {
	return p.interp(azimuthDeg, func(pt Point) float64 { return pt.AltitudeDeg })
}

// MaskDistance is the distance in meters to the terrain feature at the given azimuth.
func (p *Profile) MaskDistance(azimuthDeg float64) float64 {
	return p.interp(azimuthDeg, func(pt Point) float64 { return pt.DistanceM })
}

func (p *Profile) interp(azimuthDeg float64, val func(Point) float64) float64 {
	w := p.wrapped
	az := normalize(azimuthDeg)

	// First index with azimuth >= az. The wrap points guarantee 0 < i < len(w)
	// for any az in [0, 360).
	i := sort.Search(len(w), func(i int) bool { return w[i].AzimuthDeg >= az })
	if i == 0 {
		return val(w[0])
	}
	if i == len(w) {
		return val(w[len(w)-1])
	}
	lo, hi := w[i-1], w[i]
	span := hi.AzimuthDeg - lo.AzimuthDeg
	if span == 0 {
		return val(hi)
	}
	f := (az - lo.AzimuthDeg) / span
	return val(lo) + f*(val(hi)-val(lo))
}

func normalize(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	return az
}
