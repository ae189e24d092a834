package position

import (
	"math"
	"time"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// j2000 is the Julian Date of the J2000.0 epoch.
const j2000 = 2451545.0

const deg = math.Pi / 180.0

// Observer is a fixed ground site with its ECEF position precomputed.
type Observer struct {
	LatDeg, LonDeg, AltM float64

	latRad, lonRad float64
	x, y, z        float64 // ECEF meters
}

// NewObserver builds an Observer from geodetic coordinates (degrees, meters
// above the WGS-84 ellipsoid).
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	x, y, z := GeodeticToECEF(latDeg, lonDeg, altM)
	return Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		AltM:   altM,
		latRad: latDeg * deg,
		lonRad: lonDeg * deg,
		x:      x,
		y:      y,
		z:      z,
	}
}

// GeodeticToECEF converts latitude/longitude in degrees and height in meters
// to ECEF meters.
func GeodeticToECEF(latDeg, lonDeg, altM float64) (x, y, z float64) {
	lat := latDeg * deg
	lon := lonDeg * deg
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	x = (n + altM) * cosLat * math.Cos(lon)
	y = (n + altM) * cosLat * math.Sin(lon)
	z = (n*(1-wgs84E2) + altM) * sinLat
	return x, y, z
}

// LookAngles returns azimuth (0 = north, clockwise) and altitude in degrees
// and slant range in meters from the observer to an ECEF point in meters.
// Uses the SEZ topocentric rotation.
func (o Observer) LookAngles(x, y, z float64) (azDeg, altDeg, rangeM float64) {
	rx := x - o.x
	ry := y - o.y
	rz := z - o.z

	sinLat, cosLat := math.Sin(o.latRad), math.Cos(o.latRad)
	sinLon, cosLon := math.Sin(o.lonRad), math.Cos(o.lonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeM = math.Sqrt(south*south + east*east + zenith*zenith)
	if rangeM == 0 {
		return 0, 90, 0
	}

	// In SEZ, north is -south.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	sinEl := math.Max(-1, math.Min(1, zenith/rangeM))
	return az / deg, math.Asin(sinEl) / deg, rangeM
}

// JulianDate converts a UTC instant to a Julian Date.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	if m <= 2 {
		y -= 1
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
	return jd + (h+min/60.0+s/3600.0)/24.0
}

// GMST is Greenwich Mean Sidereal Time in radians (IAU-82).
func GMST(t time.Time) float64 {
	tUT1 := (JulianDate(t) - j2000) / 36525.0

	// Seconds of time; 876600h = 3155760000 s.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, 86400.0)
	if gmstSec < 0 {
		gmstSec += 86400.0
	}
	return gmstSec / 86400.0 * 2.0 * math.Pi
}

// TEMEToECEF rotates a TEME position about the z axis by GMST. Units are
// preserved. Polar motion and the equation of the equinoxes are ignored.
func TEMEToECEF(x, y, z, gmst float64) (float64, float64, float64) {
	cosG, sinG := math.Cos(gmst), math.Sin(gmst)
	return x*cosG + y*sinG, -x*sinG + y*cosG, z
}
