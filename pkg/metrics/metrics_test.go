package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRouteLabel(t *testing.T) {
	mux := http.NewServeMux()
	var got []string
	mux.HandleFunc("GET /api/snapshot/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		got = append(got, routeLabel(r))
	})

	for _, path := range []string{"/api/snapshot/1", "/api/snapshot/2", "/wp-admin"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	want := []string{"GET /api/snapshot/{id}", "GET /api/snapshot/{id}", "other"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("routeLabel #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/missing/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	Middleware(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/missing/42", nil))

	body := scrape(t)
	if !strings.Contains(body, `skyrfi_http_requests_total{code="404",method="GET",path="GET /api/missing/{id}"} 1`) {
		t.Fatalf("request counter missing from scrape:\n%s", body)
	}
}

func TestDomainCollectors(t *testing.T) {
	Snapshot("scheduled", "skipped_no_aircraft")
	Fetch("aircraft", "rate_limited")
	Visible(12, 3)

	body := scrape(t)
	for _, line := range []string{
		`skyrfi_snapshots_total{result="skipped_no_aircraft",trigger="scheduled"} 1`,
		`skyrfi_fetches_total{outcome="rate_limited",source="aircraft"} 1`,
		`skyrfi_visible_objects{kind="aircraft"} 3`,
		`skyrfi_visible_objects{kind="satellite"} 12`,
	} {
		if !strings.Contains(body, line) {
			t.Errorf("scrape missing %q", line)
		}
	}
}
