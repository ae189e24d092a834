package aircraft

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
)

const openSkyBody = `{"time":1700000000,"states":[
 ["a1b2c3","UAL123  ","United States",1700000000,1700000000,-118.1,37.3,10000.0,false,250.0,90.0,0.0,null,10100.0,"1200",false,0],
 ["a1b2c4","        ","United States",1700000000,1700000000,-118.2,37.2,null,false,250.0,90.0,0.0,null,5000.0,"1200",false,0],
 ["a1b2c5","NOPOS   ","United States",1700000000,1700000000,null,null,8000.0,false,250.0,90.0,0.0,null,8000.0,"1200",false,0],
 ["a1b2c6","NOALT   ","United States",1700000000,1700000000,-118.3,37.1,null,false,250.0,90.0,0.0,null,null,"1200",false,0]
]}`

const airplanesLiveBody = `{"ac":[
 {"hex":"a1b2c3","flight":"SWA456  ","lat":37.5,"lon":-118.0,"alt_baro":30000,"alt_geom":30500},
 {"hex":"a1b2c4","lat":37.4,"lon":-118.1,"alt_baro":"ground"},
 {"hex":"a1b2c5","r":"N12345","lat":37.3,"lon":-118.2,"alt_geom":1000},
 {"hex":"a1b2c6","flight":"NOPOS"}
],"msg":"No error","now":1700000000000,"total":4}`

func TestParseOpenSky(t *testing.T) {
	got := ParseOpenSky([]byte(openSkyBody))
	want := []State{
		{Name: "UAL123", LatDeg: 37.3, LonDeg: -118.1, AltM: 10000},
		{Name: "a1b2c4", LatDeg: 37.2, LonDeg: -118.2, AltM: 5000},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestParseAirplanesLive(t *testing.T) {
	got := ParseAirplanesLive([]byte(airplanesLiveBody))
	if len(got) != 3 {
		t.Fatalf("got %d aircraft: %+v", len(got), got)
	}
	if got[0].Name != "SWA456" || math.Abs(got[0].AltM-9144) > 1e-6 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Name != "a1b2c4" || got[1].AltM != 0 {
		t.Errorf("ground aircraft = %+v", got[1])
	}
	if got[2].Name != "N12345" || math.Abs(got[2].AltM-304.8) > 1e-6 {
		t.Errorf("geom fallback = %+v", got[2])
	}
}

func newTestClient(t *testing.T, source Source, h http.HandlerFunc) (*Client, *time.Time, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	now := time.Unix(1700000000, 0)
	c := NewClient(source, srv.URL, 37.2317, -118.2951, 4, nil)
	c.HTTP.RetryMax = 0
	c.Now = func() time.Time { return now }
	return c, &now, srv.Close
}

func TestFetchOpenSkyQuery(t *testing.T) {
	c, _, done := newTestClient(t, OpenSky, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/states/all" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("lamin") != "33.2317" || r.URL.Query().Get("lomax") != "-114.2951" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(openSkyBody))
	})
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Fresh || len(r.Value) != 2 {
		t.Fatalf("outcome = %v, %d aircraft", r.Outcome, len(r.Value))
	}
}

func TestFetchAirplanesLivePath(t *testing.T) {
	c, _, done := newTestClient(t, AirplanesLive, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/point/37.2317/-118.2951/240" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(airplanesLiveBody))
	})
	defer done()

	if r := c.Fetch(context.Background()); r.Outcome != fetch.Fresh {
		t.Fatalf("outcome = %v (%v)", r.Outcome, r.Err)
	}
}

func TestFetchEmptyIsNotFailure(t *testing.T) {
	c, _, done := newTestClient(t, OpenSky, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time":1700000000,"states":null}`))
	})
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Empty || r.Value == nil || len(r.Value) != 0 {
		t.Fatalf("outcome = %v value = %#v", r.Outcome, r.Value)
	}
}

func TestFetchTransient(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ac":[`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, done := newTestClient(t, AirplanesLive, tt.h)
			defer done()
			r := c.Fetch(context.Background())
			if r.Outcome != fetch.Transient || r.Err == nil {
				t.Fatalf("outcome = %v err = %v", r.Outcome, r.Err)
			}
			if !c.CooldownUntil().IsZero() {
				t.Fatal("transient failure must not start a cooldown")
			}
		})
	}
}

func TestRateLimitCooldown(t *testing.T) {
	hits := 0
	c, now, done := newTestClient(t, OpenSky, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(openSkyBody))
	})
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.RateLimited {
		t.Fatalf("outcome = %v", r.Outcome)
	}
	wantUntil := now.Add(65 * time.Second)
	if !r.RetryAt.Equal(wantUntil) || !c.CooldownUntil().Equal(wantUntil) {
		t.Fatalf("retry at %v, cooldown %v, want %v", r.RetryAt, c.CooldownUntil(), wantUntil)
	}

	// Inside the cooldown no request reaches the upstream.
	*now = now.Add(30 * time.Second)
	if r := c.Fetch(context.Background()); r.Outcome != fetch.RateLimited {
		t.Fatalf("outcome during cooldown = %v", r.Outcome)
	}
	if hits != 1 {
		t.Fatalf("upstream hits = %d, want 1", hits)
	}

	*now = now.Add(40 * time.Second)
	if !c.CooldownUntil().IsZero() {
		t.Fatal("cooldown should have expired")
	}
	if r := c.Fetch(context.Background()); r.Outcome != fetch.Fresh {
		t.Fatalf("outcome after cooldown = %v", r.Outcome)
	}
}

func TestRateLimitDefaultCooldown(t *testing.T) {
	c, now, done := newTestClient(t, AirplanesLive, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer done()

	c.Fetch(context.Background())
	if got := c.CooldownUntil().Sub(*now); got != 300*time.Second {
		t.Fatalf("cooldown = %v, want 300s", got)
	}
}

func TestSetCooldownUntilNeverShortens(t *testing.T) {
	c := NewClient(OpenSky, "http://unused", 0, 0, 1, nil)
	now := time.Unix(1700000000, 0)
	c.Now = func() time.Time { return now }

	c.SetCooldownUntil(now.Add(time.Minute))
	c.SetCooldownUntil(now.Add(time.Second))
	if !c.CooldownUntil().Equal(now.Add(time.Minute)) {
		t.Fatalf("cooldown = %v", c.CooldownUntil())
	}
}
