// Package circuit guards best-effort sinks. When a sink keeps failing the
// breaker opens and calls are skipped without touching the backend until the
// cooldown expires, after which a single probe is let through (half-open).
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers that skipped work because the breaker is open.
var ErrOpen = errors.New("circuit open")

// State is the externally visible breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Change describes a state transition caused by a Record call.
type Change struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive failures for one named sink.
type Breaker struct {
	mu sync.Mutex

	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	state     State
	openUntil time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures needed to open.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the guarded sink name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may go through. An expired open breaker moves
// to half-open and lets exactly one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().After(b.openUntil) {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		// a probe is already in flight
		return false
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOpen := b.state != StateClosed
	b.failures = 0
	b.state = StateClosed
	return Change{Closed: wasOpen}
}

// RecordFailure counts a failure. A failed half-open probe reopens at once.
func (b *Breaker) RecordFailure() Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.open()
		return Change{Opened: true}
	case StateClosed:
		if b.failures >= b.threshold {
			b.open()
			return Change{Opened: true}
		}
	}
	return Change{}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.cooldown)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen returns true unless the breaker is closed.
func (b *Breaker) IsOpen() bool {
	return b.State() != StateClosed
}

// Reset manually closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}
