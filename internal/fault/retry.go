// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package fault provides the generic fault-isolation building blocks:
// a retry policy with exponential backoff and a named circuit breaker.
// Provider implementations compose these around their own calls; the
// orchestrator never wraps resolved instances itself.
package fault

import (
	"context"
	"math"
	"math/rand"
	"time"

	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Policy configures retry behavior for an operation.
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// randFloat and sleep are overridable for testing.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy mirrors the descriptor defaults: three attempts, 200ms
// initial delay doubling up to 5s, jittered.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return enserr.Errorf(enserr.CodeFaultRetryConfig, "MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return enserr.Errorf(enserr.CodeFaultRetryConfig, "delays must be non-negative")
	}
	if p.ExponentialBase < 1 {
		return enserr.Errorf(enserr.CodeFaultRetryConfig, "ExponentialBase must be >= 1, got %g", p.ExponentialBase)
	}
	return nil
}

// Delay computes the backoff before the given attempt (1-based): the
// exponential value capped at MaxDelay, then scaled by a uniform factor in
// [0.5, 1.0] when jitter is enabled.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.ExponentialBase
	if base < 1 {
		base = 2.0
	}

	d := time.Duration(float64(p.InitialDelay) * math.Pow(base, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter && d > 0 {
		rf := p.randFloat
		if rf == nil {
			rf = rand.Float64
		}
		d = time.Duration(float64(d) * (0.5 + rf()*0.5))
	}
	return d
}

// Do runs op up to MaxAttempts times, sleeping the computed backoff between
// attempts. The sleep cooperates with ctx so backoff never blocks unrelated
// callers. On exhaustion the last underlying error is returned unchanged so
// the caller can still classify it.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := p.Validate(); err != nil {
		return err
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			// Cancelled mid-backoff; the last failure is still the
			// most useful error to surface.
			return lastErr
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
