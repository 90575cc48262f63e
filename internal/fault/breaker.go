// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package fault

import (
	"context"
	"sync"
	"time"

	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// State is a circuit breaker phase.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig matches the serve-time defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// BreakerSnapshot is a point-in-time view of one breaker for reporting.
type BreakerSnapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Breaker is a named circuit breaker. All state transitions happen inside
// one exclusive critical section per breaker, so they are globally ordered;
// the wrapped call itself always runs outside the lock.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	nowFunc func() time.Time // for testing
}

// NewBreaker creates a closed Breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		state:   StateClosed,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

// Name returns the breaker's dependency name.
func (b *Breaker) Name() string { return b.name }

// Do runs op through the breaker. While open, it fails fast with a
// circuit-open error without invoking op. A call cancelled by the caller's
// own timeout still counts as a failure for circuit accounting.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// allow decides whether a call may proceed, transitioning OPEN → HALF_OPEN
// once the timeout since the last failure has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if b.nowFunc().Sub(b.lastFailure) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return nil
		}
		return enserr.New(enserr.CodeFaultCircuitOpen,
			"circuit open: "+b.name, enserr.FieldBreaker(b.name))
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = b.nowFunc()
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.state = StateOpen
			}
		case StateHalfOpen:
			// Any failure during the trial period reopens immediately.
			b.state = StateOpen
			b.successes = 0
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// Snapshot returns the breaker's current state for reporting.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerSnapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Breakers hands out process-wide breaker singletons by dependency name.
// It is constructed once at process start and injected, so there is no
// hidden package-level state.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults BreakerConfig
}

// NewBreakers creates a registry whose breakers share the given defaults.
func NewBreakers(defaults BreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[string]*Breaker),
		defaults: defaults.withDefaults(),
	}
}

// Get returns the singleton breaker for name, creating it on first use.
// Every caller of the same logical dependency shares the same breaker.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns a snapshot of every breaker created so far.
func (r *Breakers) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]BreakerSnapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
