package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/geo"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/metrics"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/storage"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

// TokenHeader carries the API token on protected routes.
const TokenHeader = "X-API-Token"

// Snapshots is the read side of the snapshot store.
type Snapshots interface {
	ListSnapshots(ctx context.Context, limit int) ([]storage.Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (storage.Snapshot, error)
}

// Controller is the scheduler surface the API drives.
type Controller interface {
	Force(ctx context.Context, waitForAircraft bool) scheduler.ForceResult
	Status() scheduler.Status
	Live(ctx context.Context) (time.Time, []visibility.Object, error)
}

// GeoSource loads the cached globe overlay.
type GeoSource interface {
	Load() (geo.Overlay, error)
}

type Server struct {
	DB        Snapshots
	Scheduler Controller
	Geo       GeoSource
	Token     string

	// HistoryLimit caps /api/history and /api/public/snapshots.
	HistoryLimit int
}

func New(db Snapshots, sched Controller, g GeoSource, token string) *Server {
	return &Server{
		DB:           db,
		Scheduler:    sched,
		Geo:          g,
		Token:        token,
		HistoryLimit: 1000,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API Group
	mux.HandleFunc("GET /api/status", s.tokenAuth(s.handleStatus))
	mux.HandleFunc("GET /api/history", s.tokenAuth(s.handleHistory))
	mux.HandleFunc("GET /api/snapshot/{id}", s.tokenAuth(s.handleSnapshot))
	mux.HandleFunc("POST /api/force_snapshot", s.tokenAuth(s.handleForceSnapshot))
	mux.HandleFunc("GET /api/geo", s.tokenAuth(s.handleGeo))

	// Public
	mux.HandleFunc("GET /api/public/latest", s.handlePublicLatest)
	mux.HandleFunc("GET /api/public/snapshots", s.handlePublicSnapshots)
	mux.HandleFunc("GET /api/public/snapshot/{id}", s.handlePublicSnapshot)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		utils.Component("api").Infof("Starting server on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) tokenAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if s.Token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.Token)) != 1 {
			utils.Component("api").Warnf("Unauthorized API access attempt from %s", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
