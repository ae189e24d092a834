// Package scheduler refreshes upstream inputs and captures visibility
// snapshots on a fixed, drift-free schedule, plus on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/config"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/horizon"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/metrics"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/state"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/storage"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/tle"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

// ElementSource provides orbital elements.
type ElementSource interface {
	Fetch(ctx context.Context) fetch.Result[[]tle.Element]
	LoadCache() fetch.Result[[]tle.Element]
}

// AircraftSource provides aircraft positions and its rate-limit cooldown.
type AircraftSource interface {
	Fetch(ctx context.Context) fetch.Result[[]aircraft.State]
	CooldownUntil() time.Time
	SetCooldownUntil(t time.Time)
}

// HorizonSource provides the terrain profile samples.
type HorizonSource interface {
	Load(ctx context.Context) fetch.Result[[]horizon.Point]
}

// GeoCache makes sure the static overlay cache exists.
type GeoCache interface {
	Ensure(ctx context.Context) error
}

// Store persists snapshots.
type Store interface {
	SaveSnapshot(ctx context.Context, at time.Time, objs []visibility.Object, retention time.Duration) (int64, error)
}

// Deps are the collaborators of a Scheduler. Horizon and Geo are optional.
type Deps struct {
	Elements ElementSource
	Aircraft AircraftSource
	Horizon  HorizonSource
	Geo      GeoCache
	Store    Store
	Engine   *visibility.Engine
	State    *state.Shared
}

// Force result statuses.
const (
	StatusSuccess     = "success"
	StatusRateLimited = "rate_limited"
	StatusError       = "error"
)

// ForceResult is the structured answer to a forced snapshot request.
type ForceResult struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	SnapshotID     int64  `json:"snapshot_id,omitempty"`
	ObjectCount    int    `json:"object_count,omitempty"`
	SatelliteCount int    `json:"satellite_count,omitempty"`
	AircraftCount  int    `json:"aircraft_count,omitempty"`
	WaitSeconds    int    `json:"wait_seconds,omitempty"`
}

// Status is what every worker reports about the schedule. Times are unix
// seconds, 0 when unset.
type Status struct {
	NextSnapshotAt           float64 `json:"next_snapshot_at"`
	ForceSnapshotAvailableAt float64 `json:"force_snapshot_available_at"`
	LastTLEFetch             float64 `json:"last_tle_fetch"`
	LastAircraftFetch        float64 `json:"last_aircraft_fetch"`
	LastComputation          float64 `json:"last_computation"`
	AircraftRateLimitUntil   float64 `json:"aircraft_rate_limit_until"`
}

// Skip reasons for scheduled snapshots, also used as metric labels.
const (
	skippedNoElements  = "skipped_no_elements"
	skippedNoAircraft  = "skipped_no_aircraft"
	skippedRateLimited = "skipped_rate_limited"
	skippedFetchFailed = "skipped_aircraft_fetch_failed"
	skippedEmpty       = "skipped_empty"
	resultSaved        = "saved"
	resultFailed       = "failed"
)

type Scheduler struct {
	d         Deps
	timing    config.Timing
	retention time.Duration
	logger    fetch.Logger

	// Now is the clock. Tests replace it.
	Now func() time.Time

	forceMu sync.Mutex
	stopped atomic.Bool
	next    time.Time
}

func New(d Deps, timing config.Timing, retention time.Duration, logger fetch.Logger) *Scheduler {
	return &Scheduler{
		d:         d,
		timing:    timing,
		retention: retention,
		logger:    fetch.OrNop(logger),
		Now:       time.Now,
	}
}

// AlignNext returns the first multiple of interval strictly after now.
func AlignNext(now time.Time, interval time.Duration) time.Time {
	iv := int64(interval / time.Second)
	if iv <= 0 {
		return now
	}
	k := now.Unix()/iv + 1
	return time.Unix(k*iv, 0)
}

// Run starts the scheduling loop and blocks until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.stopped.Store(false)
	s.Start(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for !s.stopped.Load() {
		select {
		case <-ctx.Done():
			s.logger.Infof("Scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
	s.logger.Infof("Scheduler stopped")
	return nil
}

// Stop asks the loop to exit after the current iteration.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Start performs the entry actions of the running state: static caches,
// horizon, the initial fetches and the first aligned snapshot time.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Infof("Starting scheduler...")

	if s.d.Geo != nil {
		if err := s.d.Geo.Ensure(ctx); err != nil {
			s.logger.Warnf("Geo overlay unavailable: %v", err)
		}
	}
	s.LoadHorizon(ctx)

	now := s.Now()
	s.refreshElements(ctx)
	s.refreshAircraft(ctx, now)

	s.next = AlignNext(now, s.timing.SnapshotInterval)
	s.d.State.Update(func(st *state.SchedulerState) {
		st.NextSnapshotAt = state.Unix(s.next)
	})
	metrics.NextSnapshot(s.next)
	s.logger.Infof("Next snapshot aligned to: %s", s.next.Local().Format("15:04:05"))
}

// LoadHorizon installs the terrain profile into the engine, or a flat mask
// when none is available.
func (s *Scheduler) LoadHorizon(ctx context.Context) {
	if s.d.Horizon == nil {
		s.d.Engine.SetHorizon(nil)
		return
	}
	r := s.d.Horizon.Load(ctx)
	metrics.Fetch("horizon", r.Outcome.String())
	if len(r.Value) == 0 {
		s.logger.Warnf("No horizon profile (%s), using a flat horizon", r.Outcome)
		s.d.Engine.SetHorizon(nil)
		return
	}
	s.d.Engine.SetHorizon(horizon.NewProfile(r.Value))
}

// Prime fills the shared state from the element cache without touching the
// network. Used by workers that do not run the loop.
func (s *Scheduler) Prime() {
	r := s.d.Elements.LoadCache()
	if els, changed := fetch.Apply(fetch.ElementPolicy, r, s.d.State.Elements()); changed {
		s.d.State.SetElements(els)
	}
}

// Prepare loads the horizon and the element catalog without scheduling
// anything. One-shot commands call it before Force or Live.
func (s *Scheduler) Prepare(ctx context.Context) {
	s.LoadHorizon(ctx)
	s.refreshElements(ctx)
}

// Next is the next scheduled snapshot time known to this process.
func (s *Scheduler) Next() time.Time {
	return s.next
}

// Tick runs one iteration of the loop at the current clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.Now()

	st := s.d.State.Scheduler()
	if now.Sub(state.Time(st.LastTLEFetch)) > s.timing.TLEFetchInterval {
		s.refreshElements(ctx)
	}

	if s.next.IsZero() || now.Before(s.next) {
		return
	}

	scheduled := s.next
	outcome := s.refreshAircraft(ctx, now)
	s.snapshot(ctx, now, scheduled, outcome)

	// One interval per slot. After a stall, jump to the next slot on the grid
	// instead of replaying the missed ones.
	s.next = scheduled.Add(s.timing.SnapshotInterval)
	if !s.next.After(now) {
		s.next = AlignNext(now, s.timing.SnapshotInterval)
	}
	s.d.State.Update(func(st *state.SchedulerState) {
		st.NextSnapshotAt = state.Unix(s.next)
	})
	metrics.NextSnapshot(s.next)
}

// snapshot saves the sky at the scheduled slot. aircraftOutcome is the result
// of the refetch made for this slot; a failed refetch skips the slot rather
// than saving the aircraft list retained from an earlier fetch.
func (s *Scheduler) snapshot(ctx context.Context, now, scheduled time.Time, aircraftOutcome fetch.Outcome) {
	s.logger.Infof("Taking snapshot...")
	elements, planes := s.d.State.Inputs()

	var reason string
	switch {
	case len(elements) == 0:
		reason = skippedNoElements
		s.logger.Warnf("Skipping snapshot: no orbital elements loaded")
	case !s.d.Aircraft.CooldownUntil().IsZero() || aircraftOutcome == fetch.RateLimited:
		reason = skippedRateLimited
		s.logger.Warnf("Skipping snapshot: aircraft source rate limited")
	case aircraftOutcome == fetch.Transient:
		reason = skippedFetchFailed
		s.logger.Warnf("Skipping snapshot: aircraft fetch failed, not reusing stale aircraft")
	case len(planes) == 0:
		reason = skippedNoAircraft
		s.logger.Warnf("Skipping snapshot: no aircraft data")
	}
	if reason != "" {
		metrics.Snapshot("scheduled", reason)
		return
	}

	objs := s.compute(now, elements, planes)
	id, err := s.d.Store.SaveSnapshot(ctx, scheduled, objs, s.retention)
	if errors.Is(err, storage.ErrEmptySnapshot) {
		metrics.Snapshot("scheduled", skippedEmpty)
		s.logger.Warnf("Skipping snapshot: nothing visible")
		return
	}
	if err != nil {
		metrics.Snapshot("scheduled", resultFailed)
		s.logger.Errorf("Snapshot failed: %v", err)
		return
	}
	metrics.Snapshot("scheduled", resultSaved)
	sats, air := visibility.Count(objs)
	s.logger.Infof("Saved snapshot %d: %d satellites, %d aircraft", id, sats, air)
}

// Force captures a snapshot outside the schedule, subject to a cooldown
// shared by every process through the scheduler state file.
func (s *Scheduler) Force(ctx context.Context, waitForAircraft bool) ForceResult {
	s.forceMu.Lock()
	defer s.forceMu.Unlock()

	now := s.Now()
	st := s.d.State.Scheduler()

	if last := state.Time(st.LastForcedSnapshotAt); !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < s.timing.ForceSnapshotCooldown {
			wait := int(math.Ceil((s.timing.ForceSnapshotCooldown - elapsed).Seconds()))
			metrics.Snapshot("forced", StatusRateLimited)
			return ForceResult{
				Status:      StatusRateLimited,
				Message:     fmt.Sprintf("Please wait %d seconds before taking another snapshot", wait),
				WaitSeconds: wait,
			}
		}
	}

	if waitForAircraft {
		s.d.Aircraft.SetCooldownUntil(state.Time(st.AircraftRateLimitUntil))
		if now.Sub(state.Time(st.LastAircraftFetch)) > s.timing.PlaneFetchInterval {
			s.logger.Infof("Fetching fresh aircraft data...")
			s.refreshAircraft(ctx, now)
		}
		if until := s.d.Aircraft.CooldownUntil(); !until.IsZero() {
			wait := int(math.Ceil(until.Sub(now).Seconds()))
			metrics.Snapshot("forced", StatusRateLimited)
			return ForceResult{
				Status:      StatusRateLimited,
				Message:     fmt.Sprintf("Aircraft source is rate limited, retry in %d seconds", wait),
				WaitSeconds: wait,
			}
		}
	}

	s.logger.Infof("Manual snapshot requested")
	elements, planes := s.d.State.Inputs()
	objs := s.compute(now, elements, planes)
	if len(objs) == 0 {
		metrics.Snapshot("forced", skippedEmpty)
		return ForceResult{Status: StatusError, Message: "No visible objects to save"}
	}

	id, err := s.d.Store.SaveSnapshot(ctx, now, objs, s.retention)
	if err != nil {
		metrics.Snapshot("forced", resultFailed)
		s.logger.Errorf("Forced snapshot failed: %v", err)
		return ForceResult{Status: StatusError, Message: fmt.Sprintf("Saving snapshot: %v", err)}
	}
	s.d.State.Update(func(st *state.SchedulerState) {
		st.LastForcedSnapshotAt = state.Unix(now)
	})
	metrics.Snapshot("forced", resultSaved)

	sats, air := visibility.Count(objs)
	return ForceResult{
		Status:         StatusSuccess,
		Message:        fmt.Sprintf("Snapshot saved: %d satellites, %d aircraft", sats, air),
		SnapshotID:     id,
		ObjectCount:    len(objs),
		SatelliteCount: sats,
		AircraftCount:  air,
	}
}

// ErrRateLimited is returned by Live when the aircraft source is still
// limiting after waiting out the known cooldown.
var ErrRateLimited = errors.New("aircraft source rate limited")

// Live computes the current sky without persisting it. A known aircraft
// cooldown is waited out first so callers do not get an aircraft-less sky.
func (s *Scheduler) Live(ctx context.Context) (time.Time, []visibility.Object, error) {
	st := s.d.State.Scheduler()
	s.d.Aircraft.SetCooldownUntil(state.Time(st.AircraftRateLimitUntil))

	if until := s.d.Aircraft.CooldownUntil(); !until.IsZero() {
		wait := until.Sub(s.Now()) + time.Second
		s.logger.Infof("Waiting %ds for aircraft cooldown", int(wait.Seconds()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, nil, ctx.Err()
		case <-timer.C:
		}
	}

	now := s.Now()
	s.refreshAircraft(ctx, now)
	if !s.d.Aircraft.CooldownUntil().IsZero() {
		return time.Time{}, nil, ErrRateLimited
	}
	elements, planes := s.d.State.Inputs()
	return now, s.compute(now, elements, planes), nil
}

// Status reports the persisted schedule so every worker agrees.
func (s *Scheduler) Status() Status {
	st := s.d.State.Scheduler()
	out := Status{
		NextSnapshotAt:         st.NextSnapshotAt,
		LastTLEFetch:           st.LastTLEFetch,
		LastAircraftFetch:      st.LastAircraftFetch,
		LastComputation:        st.LastComputation,
		AircraftRateLimitUntil: st.AircraftRateLimitUntil,
	}
	if st.AircraftRateLimitUntil <= state.Unix(s.Now()) {
		out.AircraftRateLimitUntil = 0
	}
	if st.LastForcedSnapshotAt > 0 {
		available := state.Time(st.LastForcedSnapshotAt).Add(s.timing.ForceSnapshotCooldown)
		if available.After(s.Now()) {
			out.ForceSnapshotAvailableAt = state.Unix(available)
		}
	}
	return out
}

func (s *Scheduler) compute(now time.Time, elements []tle.Element, planes []aircraft.State) []visibility.Object {
	start := time.Now()
	objs := s.d.Engine.Compute(now, elements, planes)
	metrics.ComputeDuration(time.Since(start))

	sats, air := visibility.Count(objs)
	metrics.Visible(sats, air)
	s.d.State.Update(func(st *state.SchedulerState) {
		st.LastComputation = state.Unix(now)
	})
	return objs
}

func (s *Scheduler) refreshElements(ctx context.Context) {
	r := s.d.Elements.Fetch(ctx)
	// Stamp after the fetch so a slow download does not leave the cache file
	// younger than the interval at the next check.
	done := s.Now()
	metrics.Fetch("tle", r.Outcome.String())
	if els, changed := fetch.Apply(fetch.ElementPolicy, r, s.d.State.Elements()); changed {
		s.d.State.SetElements(els)
	} else {
		s.logger.Warnf("Keeping previous orbital elements (%s)", r.Outcome)
	}
	s.d.State.Update(func(st *state.SchedulerState) {
		st.LastTLEFetch = state.Unix(done)
	})
}

func (s *Scheduler) refreshAircraft(ctx context.Context, now time.Time) fetch.Outcome {
	r := s.d.Aircraft.Fetch(ctx)
	metrics.Fetch("aircraft", r.Outcome.String())
	if planes, changed := fetch.Apply(fetch.AircraftPolicy, r, s.d.State.Aircraft()); changed {
		s.d.State.SetAircraft(planes)
	}
	until := s.d.Aircraft.CooldownUntil()
	s.d.State.Update(func(st *state.SchedulerState) {
		st.LastAircraftFetch = state.Unix(now)
		st.AircraftRateLimitUntil = state.Unix(until)
	})
	return r.Outcome
}
