// Package fetch describes the outcome of an upstream fetch and how each data
// source falls back when the outcome is not fresh data.
package fetch

import (
	"fmt"
	"time"
)

// Outcome classifies a single fetch attempt.
type Outcome int

const (
	// Fresh means the upstream answered with usable data.
	Fresh Outcome = iota
	// Cached means data came from a local cache instead of the network.
	Cached
	// Empty means the upstream answered successfully with nothing in it.
	Empty
	// Transient covers network errors, non-200 responses and malformed payloads.
	Transient
	// RateLimited means the upstream asked us to back off, or we are still backing off.
	RateLimited
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Cached:
		return "cached"
	case Empty:
		return "empty"
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the value produced by a fetch along with why it looks the way it does.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
	// RetryAt is set for RateLimited results.
	RetryAt time.Time
}

// Action is what a consumer does with a fetch result.
type Action int

const (
	// Replace swaps the cached value for the fetched one.
	Replace Action = iota
	// Retain keeps the previously cached value.
	Retain
)

// Policy maps each outcome to an action for one data source.
type Policy map[Outcome]Action

// Apply returns the value to keep given the prior cached value and whether it changed.
// Outcomes missing from the policy retain the prior value.
func Apply[T any](p Policy, r Result[T], prior T) (T, bool) {
	if a, ok := p[r.Outcome]; ok && a == Replace {
		return r.Value, true
	}
	return prior, false
}

// Orbital element sets: an empty or failed fetch never wipes the catalog.
var ElementPolicy = Policy{
	Fresh:       Replace,
	Cached:      Replace,
	Empty:       Retain,
	Transient:   Retain,
	RateLimited: Retain,
}

// Aircraft: an empty sky is a real answer, a failure is not.
var AircraftPolicy = Policy{
	Fresh:       Replace,
	Cached:      Replace,
	Empty:       Replace,
	Transient:   Retain,
	RateLimited: Retain,
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// NopLogger silently discards all messages.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) Debugf(string, ...interface{}) {}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
