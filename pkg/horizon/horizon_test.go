package horizon

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSeamContinuity(t *testing.T) {
	profiles := []*Profile{
		NewProfile([]Point{{10, 2, 500}, {180, 8, 2000}, {350, 4, 1000}}),
		NewProfile([]Point{{0, 3, 100}, {90, 1, 100}, {270, 5, 100}}),
		NewProfile([]Point{{45, 7, 300}}),
		Flat(),
	}
	for i, p := range profiles {
		if !almostEqual(p.MaskAltitude(0), p.MaskAltitude(360)) {
			t.Errorf("profile %d: alt(0)=%v alt(360)=%v", i, p.MaskAltitude(0), p.MaskAltitude(360))
		}
		if !almostEqual(p.MaskDistance(0), p.MaskDistance(360)) {
			t.Errorf("profile %d: dist(0)=%v dist(360)=%v", i, p.MaskDistance(0), p.MaskDistance(360))
		}
	}
}

func TestInterpolationAcrossSeam(t *testing.T) {
	p := NewProfile([]Point{{350, 4, 1000}, {10, 2, 500}, {180, 8, 2000}})

	tests := []struct {
		az       float64
		wantAlt  float64
		wantDist float64
	}{
		{0, 3, 750},
		{355, 3.5, 875},
		{5, 2.5, 625},
		{10, 2, 500},
		{95, 5, 1250},
		{-10, 4, 1000},
		{720, 3, 750},
	}
	for _, tt := range tests {
		if got := p.MaskAltitude(tt.az); !almostEqual(got, tt.wantAlt) {
			t.Errorf("MaskAltitude(%v) = %v, want %v", tt.az, got, tt.wantAlt)
		}
		if got := p.MaskDistance(tt.az); !almostEqual(got, tt.wantDist) {
			t.Errorf("MaskDistance(%v) = %v, want %v", tt.az, got, tt.wantDist)
		}
	}
}

func TestNewProfileSortsAndDedups(t *testing.T) {
	p := NewProfile([]Point{{90, 1, 1}, {360, 9, 9}, {90, 5, 5}, {0.5, 2, 2}})
	got := p.Points()
	if len(got) != 3 {
		t.Fatalf("got %d points, want 3: %+v", len(got), got)
	}
	if got[0].AzimuthDeg != 0 || got[0].AltitudeDeg != 9 {
		t.Errorf("360 should normalize to 0, got %+v", got[0])
	}
	if got[2].AltitudeDeg != 1 {
		t.Errorf("first duplicate should win, got %+v", got[2])
	}
}

func TestFlatAndEmpty(t *testing.T) {
	for _, p := range []*Profile{Flat(), NewProfile(nil)} {
		for _, az := range []float64{0, 123.4, 359.9} {
			if p.MaskAltitude(az) != 0 {
				t.Errorf("flat altitude at %v = %v", az, p.MaskAltitude(az))
			}
			if p.MaskDistance(az) != FlatDistanceM {
				t.Errorf("flat distance at %v = %v", az, p.MaskDistance(az))
			}
		}
	}
}

const sampleCSV = `id,azimuth,altitude,distance
0,0.0,1.5,1200
1,bad,2.0,100
2,120.0,3.0,
3,90.0,2.5,3400
4,45.0,2.0,2300
`

func TestParseCSV(t *testing.T) {
	pts, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 3 {
		t.Fatalf("got %d points, want 3: %+v", len(pts), pts)
	}
	if pts[2] != (Point{45, 2, 2300}) {
		t.Errorf("last point = %+v", pts[2])
	}
}

func TestClientDownloadsOnceThenUsesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Query().Get("id") != "PANO" || r.URL.Query().Get("resolution") != "0.1" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "data", "OVRO_horizon.csv")
	c := NewClient(srv.URL, "PANO", "0.1", cache, nil)

	r := c.Load(context.Background())
	if r.Outcome != fetch.Fresh || len(r.Value) != 3 {
		t.Fatalf("first load = %v with %d points", r.Outcome, len(r.Value))
	}
	r = c.Load(context.Background())
	if r.Outcome != fetch.Cached || len(r.Value) != 3 {
		t.Fatalf("second load = %v with %d points", r.Outcome, len(r.Value))
	}
	if hits != 1 {
		t.Fatalf("upstream hit %d times, want 1", hits)
	}
}

func TestClientDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "h.csv")
	c := NewClient(srv.URL, "PANO", "0.1", cache, nil)
	r := c.Load(context.Background())
	if r.Outcome != fetch.Transient || r.Err == nil {
		t.Fatalf("outcome = %v err = %v", r.Outcome, r.Err)
	}
	if _, err := os.Stat(cache); !os.IsNotExist(err) {
		t.Fatal("cache file should not be written on failure")
	}
}
