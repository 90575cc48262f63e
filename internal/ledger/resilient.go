// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Resilient wraps a durable Ledger and degrades to in-memory-only tracking
// on the first persistence failure. The downgrade is logged once and never
// surfaced to the caller: usage accounting must not fail an acquisition.
type Resilient struct {
	mu       sync.Mutex
	primary  Ledger
	fallback *Memory
	degraded bool
}

var _ Ledger = (*Resilient)(nil)

// NewResilient wraps primary with the memory fallback.
func NewResilient(primary Ledger) *Resilient {
	return &Resilient{
		primary:  primary,
		fallback: NewMemory(),
	}
}

// Degraded reports whether the ledger has fallen back to memory-only mode.
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// active returns the ledger to delegate to.
func (r *Resilient) active() Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded {
		return r.fallback
	}
	return r.primary
}

// degrade flips to memory-only mode, logging the cause exactly once.
func (r *Resilient) degrade(op string, err error) {
	r.mu.Lock()
	already := r.degraded
	r.degraded = true
	r.mu.Unlock()

	if !already {
		slog.Warn("usage ledger persistence failed; downgrading to in-memory tracking",
			"op", op, "error", err)
	}
}

func (r *Resilient) Append(ctx context.Context, rec Record) error {
	if err := r.active().Append(ctx, rec); err != nil {
		r.degrade("append", err)
		return r.fallback.Append(ctx, rec)
	}
	return nil
}

func (r *Resilient) Range(ctx context.Context, from, to time.Time) ([]Record, error) {
	out, err := r.active().Range(ctx, from, to)
	if err != nil {
		r.degrade("range", err)
		return r.fallback.Range(ctx, from, to)
	}
	return out, nil
}

func (r *Resilient) SummarizeByDay(ctx context.Context, from, to time.Time) ([]DayUsage, error) {
	out, err := r.active().SummarizeByDay(ctx, from, to)
	if err != nil {
		r.degrade("summarize_by_day", err)
		return r.fallback.SummarizeByDay(ctx, from, to)
	}
	return out, nil
}

func (r *Resilient) SummarizeByMonth(ctx context.Context, from, to time.Time) ([]MonthUsage, error) {
	out, err := r.active().SummarizeByMonth(ctx, from, to)
	if err != nil {
		r.degrade("summarize_by_month", err)
		return r.fallback.SummarizeByMonth(ctx, from, to)
	}
	return out, nil
}

func (r *Resilient) ByProvider(ctx context.Context, from, to time.Time) ([]ProviderUsage, error) {
	out, err := r.active().ByProvider(ctx, from, to)
	if err != nil {
		r.degrade("by_provider", err)
		return r.fallback.ByProvider(ctx, from, to)
	}
	return out, nil
}

func (r *Resilient) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := r.active().Purge(ctx, olderThan)
	if err != nil {
		r.degrade("purge", err)
		return r.fallback.Purge(ctx, olderThan)
	}
	return n, nil
}

func (r *Resilient) Close() error {
	// The fallback never fails to close.
	_ = r.fallback.Close()
	return r.primary.Close()
}
