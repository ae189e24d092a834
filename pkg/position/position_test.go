package position

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestJulianDateAndGMSTAtJ2000(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	if jd := JulianDate(epoch); jd != j2000 {
		t.Fatalf("JulianDate(J2000) = %v", jd)
	}
	// 18.697374558 h of sidereal time.
	if g := GMST(epoch) / deg; !near(g, 280.46061837, 1e-6) {
		t.Fatalf("GMST(J2000) = %v deg", g)
	}
}

func TestGeodeticToECEF(t *testing.T) {
	x, y, z := GeodeticToECEF(0, 0, 0)
	if !near(x, wgs84A, 1e-6) || !near(y, 0, 1e-6) || !near(z, 0, 1e-6) {
		t.Fatalf("equator/prime meridian = (%v, %v, %v)", x, y, z)
	}
	_, _, z = GeodeticToECEF(90, 0, 0)
	// Semi-minor axis.
	if !near(z, 6356752.314245, 1e-3) {
		t.Fatalf("pole z = %v", z)
	}
}

func TestLookAngles(t *testing.T) {
	obs := NewObserver(0, 0, 0)

	x, y, z := GeodeticToECEF(0, 0, 100000)
	_, alt, rng := obs.LookAngles(x, y, z)
	if !near(alt, 90, 1e-4) || !near(rng, 100000, 1e-3) {
		t.Fatalf("zenith: alt = %v, range = %v", alt, rng)
	}

	tests := []struct {
		name     string
		lat, lon float64
		wantAz   float64
	}{
		{"north", 0.5, 0, 0},
		{"east", 0, 0.5, 90},
		{"south", -0.5, 0, 180},
		{"west", 0, -0.5, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, z := GeodeticToECEF(tt.lat, tt.lon, 10000)
			az, alt, _ := obs.LookAngles(x, y, z)
			if tt.wantAz == 0 && az > 180 {
				az -= 360
			}
			if !near(az, tt.wantAz, 0.01) {
				t.Errorf("az = %v, want %v", az, tt.wantAz)
			}
			if alt <= 0 || alt >= 90 {
				t.Errorf("alt = %v, want above horizon", alt)
			}
		})
	}

	// Below the geometric horizon.
	x, y, z = GeodeticToECEF(20, 0, 0)
	if _, alt, _ := obs.LookAngles(x, y, z); alt >= 0 {
		t.Errorf("distant ground point alt = %v, want negative", alt)
	}
}

type fakeProp struct {
	x, y, z float64
	err     error
}

func (f fakeProp) Propagate(time.Time) (float64, float64, float64, error) {
	return f.x, f.y, f.z, f.err
}

func TestResolverSatellite(t *testing.T) {
	r := NewResolver(NewObserver(90, 0, 0))
	at := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

	// A point on the rotation axis is unaffected by GMST.
	p, err := r.Satellite(fakeProp{0, 0, 7000, nil}, at)
	if err != nil {
		t.Fatal(err)
	}
	if !near(p.AltitudeDeg, 90, 1e-4) {
		t.Errorf("alt = %v, want 90", p.AltitudeDeg)
	}
	if !near(p.ECEFKm[2], 7000, 1e-9) {
		t.Errorf("ecef z = %v km", p.ECEFKm[2])
	}
	if !near(p.DistanceM, 7000e3-6356752.314245, 1) {
		t.Errorf("distance = %v m", p.DistanceM)
	}

	boom := errors.New("decayed")
	if _, err := r.Satellite(fakeProp{err: boom}, at); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolverAircraft(t *testing.T) {
	r := NewResolver(NewObserver(37.2317, -118.2951, 1222))

	p, err := r.Aircraft(aircraft.State{Name: "UAL1", LatDeg: 37.2317, LonDeg: -118.2951, AltM: 11222})
	if err != nil {
		t.Fatal(err)
	}
	if !near(p.AltitudeDeg, 90, 1e-4) || !near(p.DistanceM, 10000, 1e-3) {
		t.Fatalf("overhead aircraft = %+v", p)
	}

	bad := []aircraft.State{
		{Name: "nan", LatDeg: math.NaN(), LonDeg: 0, AltM: 0},
		{Name: "range", LatDeg: 91, LonDeg: 0, AltM: 0},
	}
	for _, a := range bad {
		if _, err := r.Aircraft(a); err == nil {
			t.Errorf("%s: expected error", a.Name)
		}
	}
}
