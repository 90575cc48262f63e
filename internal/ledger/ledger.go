// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package ledger implements the append-only, time-indexed usage history
// behind the cost optimizer: range queries, per-day and per-month
// aggregation, and per-provider breakdown, retained for a bounded window.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble-dev/ensemble/internal/provider"
)

// DefaultRetentionDays is how long usage records are kept before they are
// eligible for purging.
const DefaultRetentionDays = 90

// Record is one appended usage entry. ActualCost is filled in later by
// callers that reconcile against billing data; EstimatedCost is always set.
type Record struct {
	ID            uuid.UUID           `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	Kind          provider.Kind       `json:"kind"`
	Name          string              `json:"name"`
	Params        provider.CostParams `json:"params"`
	EstimatedCost float64             `json:"estimated_cost"`
	ActualCost    *float64            `json:"actual_cost,omitempty"`
}

// DayUsage aggregates one calendar day (UTC).
type DayUsage struct {
	Day           string  `json:"day"` // YYYY-MM-DD
	Requests      int64   `json:"requests"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// MonthUsage aggregates one calendar month (UTC).
type MonthUsage struct {
	Month         string  `json:"month"` // YYYY-MM
	Requests      int64   `json:"requests"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// ProviderUsage aggregates one (kind, name) pair over a range.
type ProviderUsage struct {
	Kind          provider.Kind `json:"kind"`
	Name          string        `json:"name"`
	Requests      int64         `json:"requests"`
	EstimatedCost float64       `json:"estimated_cost"`
}

// Ledger is the append-only usage store.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	Range(ctx context.Context, from, to time.Time) ([]Record, error)
	SummarizeByDay(ctx context.Context, from, to time.Time) ([]DayUsage, error)
	SummarizeByMonth(ctx context.Context, from, to time.Time) ([]MonthUsage, error)
	ByProvider(ctx context.Context, from, to time.Time) ([]ProviderUsage, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// DayOf truncates t to its UTC calendar day key.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthOf truncates t to its UTC calendar month key.
func MonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
