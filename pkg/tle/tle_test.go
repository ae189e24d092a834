package tle

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/klauspost/compress/zip"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"
)

func threeLine(name string) string {
	return name + "\n" + issLine1 + "\n" + issLine2 + "\n"
}

func TestGroupID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"STARLINK-1234", "STARLINK"},
		{"USA 245", "USA 245"},
		{"ISS (ZARYA)", "ISS"},
		{"USA ABC", "USA"},
		{"ONEWEB-0012 [+]", "ONEWEB"},
		{"NOAA 19", "NOAA"},
		{"HUBBLE", "HUBBLE"},
		{"COSMOS 2251 DEB", "COSMOS"},
	}
	for _, tt := range tests {
		if got := GroupID(tt.name); got != tt.want {
			t.Errorf("GroupID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseMixedFormats(t *testing.T) {
	data := threeLine("STARLINK-1234") +
		issLine1 + "\n" + issLine2 + "\n" +
		"garbage line\n" +
		threeLine("USA 245") +
		"BROKEN\n1 25544U short\n2 25544 short\n"

	elements, err := Parse([]byte(data), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(elements) != 3 {
		t.Fatalf("got %d elements, want 3", len(elements))
	}

	want := []struct{ name, group string }{
		{"STARLINK-1234", "STARLINK"},
		{UnknownName, UnknownName},
		{"USA 245", "USA 245"},
	}
	for i, w := range want {
		if elements[i].Name != w.name || elements[i].GroupID != w.group {
			t.Errorf("element %d = %q/%q, want %q/%q", i, elements[i].Name, elements[i].GroupID, w.name, w.group)
		}
		if elements[i].NORADID != 25544 {
			t.Errorf("element %d NORAD = %d", i, elements[i].NORADID)
		}
	}
}

func TestNewElementRejectsJunk(t *testing.T) {
	bad := []struct{ l1, l2 string }{
		{"1 25544U", issLine2},
		{issLine2, issLine1},
		{strings.Replace(issLine1, "08264.51782528", "0826X.51782528", 1), issLine2},
		{issLine1, strings.Replace(issLine2, "15.72125391", "15.7212X391", 1)},
	}
	for i, b := range bad {
		if _, err := NewElement("X", b.l1, b.l2); !errors.Is(err, ErrInvalidTLE) {
			t.Errorf("case %d: err = %v, want ErrInvalidTLE", i, err)
		}
	}
}

func TestPropagateNearEpoch(t *testing.T) {
	e, err := NewElement("ISS (ZARYA)", issLine1, issLine2)
	if err != nil {
		t.Fatal(err)
	}
	x, y, z, err := e.Propagate(time.Date(2008, 9, 20, 12, 25, 40, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	r := math.Sqrt(x*x + y*y + z*z)
	if r < 6600 || r > 6800 {
		t.Fatalf("radius %v km, expected low earth orbit", r)
	}
}

func classifiedZip(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(classifiedEntry)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(body))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, celestrak, mccants http.HandlerFunc) (*Client, string, func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/celestrak", celestrak)
	mux.HandleFunc("/classfd.zip", mccants)
	srv := httptest.NewServer(mux)

	cache := filepath.Join(t.TempDir(), "data", "celestrak_cache.txt")
	c := NewClient(srv.URL+"/celestrak", srv.URL+"/classfd.zip", cache, 2*time.Hour, nil)
	c.HTTP.RetryMax = 0
	return c, cache, srv.Close
}

func TestClientFetchCombinesSources(t *testing.T) {
	zipBody := classifiedZip(t, threeLine("USA 245"))
	c, cache, done := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(threeLine("STARLINK-1234"))) },
		func(w http.ResponseWriter, r *http.Request) { w.Write(zipBody) },
	)
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Fresh {
		t.Fatalf("outcome = %v (%v)", r.Outcome, r.Err)
	}
	if len(r.Value) != 2 || r.Value[1].GroupID != "USA 245" {
		t.Fatalf("elements = %+v", r.Value)
	}
	b, err := os.ReadFile(cache)
	if err != nil || !strings.Contains(string(b), "USA 245") {
		t.Fatalf("cache not written with classified objects: %v", err)
	}
}

func TestClientMcCantsFailureIsNotFatal(t *testing.T) {
	c, _, done := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(threeLine("STARLINK-1234"))) },
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not a zip")) },
	)
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Fresh || len(r.Value) != 1 {
		t.Fatalf("outcome = %v, %d elements", r.Outcome, len(r.Value))
	}
}

func TestClientCacheGating(t *testing.T) {
	hits := 0
	c, cache, done := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusForbidden)
		},
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
	)
	defer done()

	os.MkdirAll(filepath.Dir(cache), 0755)
	if err := os.WriteFile(cache, []byte(threeLine("NOAA 19")), 0644); err != nil {
		t.Fatal(err)
	}
	st, _ := os.Stat(cache)

	c.Now = func() time.Time { return st.ModTime().Add(10 * time.Minute) }
	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Cached || hits != 0 {
		t.Fatalf("fresh cache: outcome = %v, upstream hits = %d", r.Outcome, hits)
	}

	c.Now = func() time.Time { return st.ModTime().Add(3 * time.Hour) }
	r = c.Fetch(context.Background())
	if hits != 1 {
		t.Fatalf("stale cache should trigger a fetch, hits = %d", hits)
	}
	if r.Outcome != fetch.Cached || len(r.Value) != 1 || r.Value[0].GroupID != "NOAA" {
		t.Fatalf("403 should fall back to cache, got %v with %d elements", r.Outcome, len(r.Value))
	}
}

func TestClientNoCacheNoNetwork(t *testing.T) {
	c, _, done := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
		func(w http.ResponseWriter, r *http.Request) {},
	)
	defer done()

	r := c.Fetch(context.Background())
	if r.Outcome != fetch.Transient || r.Err == nil {
		t.Fatalf("outcome = %v, err = %v", r.Outcome, r.Err)
	}
}
