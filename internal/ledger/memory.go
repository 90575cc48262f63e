// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ensemble-dev/ensemble/internal/provider"
)

// Memory is the in-memory Ledger used for tests and as the degraded mode
// the resilient wrapper falls back to on persistence failure.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Range(_ context.Context, from, to time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if inRange(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) SummarizeByDay(ctx context.Context, from, to time.Time) ([]DayUsage, error) {
	recs, _ := m.Range(ctx, from, to)

	byDay := make(map[string]*DayUsage)
	for _, r := range recs {
		day := DayOf(r.Timestamp)
		agg, ok := byDay[day]
		if !ok {
			agg = &DayUsage{Day: day}
			byDay[day] = agg
		}
		agg.Requests++
		agg.EstimatedCost += r.EstimatedCost
	}

	out := make([]DayUsage, 0, len(byDay))
	for _, agg := range byDay {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *Memory) SummarizeByMonth(ctx context.Context, from, to time.Time) ([]MonthUsage, error) {
	recs, _ := m.Range(ctx, from, to)

	byMonth := make(map[string]*MonthUsage)
	for _, r := range recs {
		month := MonthOf(r.Timestamp)
		agg, ok := byMonth[month]
		if !ok {
			agg = &MonthUsage{Month: month}
			byMonth[month] = agg
		}
		agg.Requests++
		agg.EstimatedCost += r.EstimatedCost
	}

	out := make([]MonthUsage, 0, len(byMonth))
	for _, agg := range byMonth {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (m *Memory) ByProvider(ctx context.Context, from, to time.Time) ([]ProviderUsage, error) {
	recs, _ := m.Range(ctx, from, to)

	type pkey struct {
		kind provider.Kind
		name string
	}
	byProv := make(map[pkey]*ProviderUsage)
	for _, r := range recs {
		k := pkey{kind: r.Kind, name: r.Name}
		agg, ok := byProv[k]
		if !ok {
			agg = &ProviderUsage{Kind: r.Kind, Name: r.Name}
			byProv[k] = agg
		}
		agg.Requests++
		agg.EstimatedCost += r.EstimatedCost
	}

	out := make([]ProviderUsage, 0, len(byProv))
	for _, agg := range byProv {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var purged int64
	for _, r := range m.records {
		if r.Timestamp.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return purged, nil
}

func (m *Memory) Close() error { return nil }

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
