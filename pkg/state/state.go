// Package state holds the latest fetched inputs in memory and the scheduler
// timestamps shared between processes through a small JSON file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/tle"
	"github.com/gofrs/flock"
)

// SchedulerState is the cross-process record. Times are unix seconds, 0 when unset.
type SchedulerState struct {
	LastTLEFetch           float64 `json:"last_tle_fetch"`
	LastAircraftFetch      float64 `json:"last_aircraft_fetch"`
	LastComputation        float64 `json:"last_computation"`
	NextSnapshotAt         float64 `json:"next_snapshot_at"`
	LastForcedSnapshotAt   float64 `json:"last_forced_snapshot_at"`
	AircraftRateLimitUntil float64 `json:"aircraft_rate_limit_until"`
}

// Shared is the in-process cache of inputs plus the replicated scheduler state.
// All methods are safe for concurrent use.
type Shared struct {
	mu       sync.Mutex
	elements []tle.Element
	aircraft []aircraft.State
	sched    SchedulerState

	path     string
	fileLock *flock.Flock
	logger   fetch.Logger
}

// New returns a Shared backed by the state file at path. An empty path keeps
// the scheduler state in memory only.
func New(path string, logger fetch.Logger) *Shared {
	s := &Shared{path: path, logger: fetch.OrNop(logger)}
	if path != "" {
		s.fileLock = flock.New(path + ".lock")
	}
	return s
}

// Elements returns the current orbital element set. The slice is shared and
// must not be modified.
func (s *Shared) Elements() []tle.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements
}

// SetElements replaces the whole element set.
func (s *Shared) SetElements(els []tle.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements = els
}

// Aircraft returns the current aircraft list. The slice must not be modified.
func (s *Shared) Aircraft() []aircraft.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aircraft
}

// SetAircraft replaces the whole aircraft list.
func (s *Shared) SetAircraft(planes []aircraft.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aircraft = planes
}

// Inputs returns elements and aircraft as one consistent pair.
func (s *Shared) Inputs() ([]tle.Element, []aircraft.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements, s.aircraft
}

// Scheduler returns the freshest scheduler state: the shared file when it is
// readable, otherwise the last value this process knew.
func (s *Shared) Scheduler() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := s.read(); err == nil {
		s.sched = st
	}
	return s.sched
}

// Update applies fn to the freshest scheduler state and persists the result.
// Writers in other processes are serialized by a file lock; a failed write is
// logged and the in-memory value still advances.
func (s *Shared) Update(fn func(st *SchedulerState)) SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileLock != nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err == nil {
			if err := s.fileLock.Lock(); err != nil {
				s.logger.Warnf("Locking scheduler state: %v", err)
			} else {
				defer s.fileLock.Unlock()
			}
		}
	}

	if st, err := s.read(); err == nil {
		s.sched = st
	}
	fn(&s.sched)
	if err := s.write(s.sched); err != nil {
		s.logger.Warnf("Persisting scheduler state: %v", err)
	}
	return s.sched
}

func (s *Shared) read() (SchedulerState, error) {
	if s.path == "" {
		return SchedulerState{}, os.ErrNotExist
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return SchedulerState{}, err
	}
	var st SchedulerState
	if err := json.Unmarshal(b, &st); err != nil {
		return SchedulerState{}, fmt.Errorf("corrupt scheduler state %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Shared) write(st SchedulerState) error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Time converts a stored timestamp back to a time.Time (zero for 0).
func Time(unix float64) time.Time {
	return utils.FromUnixSeconds(unix)
}

// Unix converts t to the stored representation (0 for the zero time).
func Unix(t time.Time) float64 {
	return utils.UnixSeconds(t)
}
