// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package cost_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-dev/ensemble/internal/cost"
	"github.com/ensemble-dev/ensemble/internal/ledger"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// pricedProvider returns a fixed estimate regardless of parameters.
type pricedProvider struct {
	name     string
	kind     provider.Kind
	estimate float64
}

func (p *pricedProvider) Name() string                             { return p.name }
func (p *pricedProvider) Kind() provider.Kind                      { return p.kind }
func (p *pricedProvider) HealthCheck(context.Context) error        { return nil }
func (p *pricedProvider) EstimateCost(provider.CostParams) float64 { return p.estimate }
func (p *pricedProvider) Close() error                             { return nil }

// pricedSource maps names to priced providers.
type pricedSource map[string]*pricedProvider

func (s pricedSource) Get(_ provider.Kind, name string) (provider.Provider, error) {
	p, ok := s[name]
	if !ok {
		return nil, enserr.New(enserr.CodeCatalogLookupNotFound, "no provider registered: "+name)
	}
	return p, nil
}

func descriptorsFor(src pricedSource, priorities map[string]int) []provider.Descriptor {
	out := make([]provider.Descriptor, 0, len(priorities))
	// Deterministic input order matters for tie-breaking, so iterate a
	// fixed name list rather than the map.
	for _, name := range []string{"a", "b", "c", "d"} {
		if prio, ok := priorities[name]; ok {
			out = append(out, provider.Descriptor{Name: name, Kind: src[name].kind, Priority: prio})
		}
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"lowest_cost", "cost_performance_balance", "budget_constrained", "cost_ceiling"} {
		got, err := cost.ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, cost.Strategy(s), got)
	}

	_, err := cost.ParseStrategy("cheapest")
	assert.Error(t, err)
}

func TestOptimizer_EstimateUnresolvableIsZero(t *testing.T) {
	opt := cost.NewOptimizer(pricedSource{}, ledger.NewMemory(), cost.Config{})

	assert.Zero(t, opt.Estimate(provider.KindGeneration, "ghost", provider.CostParams{}))
}

func TestOptimizer_LowestCostFirstWins(t *testing.T) {
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 2.0},
		"b": {name: "b", kind: provider.KindGeneration, estimate: 1.0},
		"c": {name: "c", kind: provider.KindGeneration, estimate: 1.0},
	}
	opt := cost.NewOptimizer(src, ledger.NewMemory(), cost.Config{})

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 1, "b": 2, "c": 3}), provider.CostParams{})

	name, ok := opt.Select(context.Background(), cost.LowestCost, scored)
	require.True(t, ok)
	// b and c tie at 1.0; the earlier candidate wins.
	assert.Equal(t, "b", name)
}

func TestOptimizer_CostPerformanceBalance(t *testing.T) {
	// a: cheap but slow (priority 10 → perf 10); b: pricier but fast
	// (priority 1 → perf 100). Equal weights favor b only when its cost
	// penalty is small enough.
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 0.10},
		"b": {name: "b", kind: provider.KindGeneration, estimate: 0.12},
	}
	opt := cost.NewOptimizer(src, ledger.NewMemory(), cost.Config{CostWeight: 0.5, PerformanceWeight: 0.5})

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 10, "b": 1}), provider.CostParams{})

	name, ok := opt.Select(context.Background(), cost.CostPerformanceBalance, scored)
	require.True(t, ok)
	// a: 0.10·0.5 + (1/10)·0.5 = 0.10; b: 0.12·0.5 + (1/100)·0.5 = 0.065.
	assert.Equal(t, "b", name)
}

func TestOptimizer_BudgetConstrained(t *testing.T) {
	ctx := context.Background()
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 1.0},
		"b": {name: "b", kind: provider.KindGeneration, estimate: 3.0},
	}

	// 8.0 of a 10.0 daily budget already spent.
	usage := ledger.NewMemory()
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, usage.Append(ctx, ledger.Record{
		ID: uuid.New(), Timestamp: now.Add(-2 * time.Hour),
		Kind: provider.KindGeneration, Name: "a", EstimatedCost: 8.0,
	}))

	opt := cost.NewOptimizer(src, usage, cost.Config{DailyBudget: 10.0})
	opt.SetNowFunc(func() time.Time { return now })

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 2, "b": 1}), provider.CostParams{})

	// a fits (8+1 <= 10); b does not (8+3 > 10). b's better performance
	// cannot save it.
	name, ok := opt.Select(ctx, cost.BudgetConstrained, scored)
	require.True(t, ok)
	assert.Equal(t, "a", name)
}

func TestOptimizer_BudgetConstrainedNoSurvivors(t *testing.T) {
	ctx := context.Background()
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 5.0},
	}

	usage := ledger.NewMemory()
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, usage.Append(ctx, ledger.Record{
		ID: uuid.New(), Timestamp: now.Add(-time.Hour),
		Kind: provider.KindGeneration, Name: "a", EstimatedCost: 9.0,
	}))

	opt := cost.NewOptimizer(src, usage, cost.Config{DailyBudget: 10.0})
	opt.SetNowFunc(func() time.Time { return now })

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 1}), provider.CostParams{})

	_, ok := opt.Select(ctx, cost.BudgetConstrained, scored)
	assert.False(t, ok)
}

func TestOptimizer_BudgetConstrainedIgnoresOtherDays(t *testing.T) {
	ctx := context.Background()
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 5.0},
	}

	// Heavy spend yesterday must not count against today's budget.
	usage := ledger.NewMemory()
	now := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, usage.Append(ctx, ledger.Record{
		ID: uuid.New(), Timestamp: now.AddDate(0, 0, -1),
		Kind: provider.KindGeneration, Name: "a", EstimatedCost: 100.0,
	}))

	opt := cost.NewOptimizer(src, usage, cost.Config{DailyBudget: 10.0})
	opt.SetNowFunc(func() time.Time { return now })

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 1}), provider.CostParams{})

	name, ok := opt.Select(ctx, cost.BudgetConstrained, scored)
	require.True(t, ok)
	assert.Equal(t, "a", name)
}

func TestOptimizer_ZeroBudgetMeansUnlimited(t *testing.T) {
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 1000.0},
		"b": {name: "b", kind: provider.KindGeneration, estimate: 2000.0},
	}
	opt := cost.NewOptimizer(src, ledger.NewMemory(), cost.Config{})

	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 3, "b": 1}), provider.CostParams{})

	name, ok := opt.Select(context.Background(), cost.BudgetConstrained, scored)
	require.True(t, ok)
	// With no budget, the strategy reduces to best performer.
	assert.Equal(t, "b", name)
}

func TestOptimizer_CostCeiling(t *testing.T) {
	src := pricedSource{
		"a": {name: "a", kind: provider.KindGeneration, estimate: 1.0},
		"b": {name: "b", kind: provider.KindGeneration, estimate: 1.4},
		"c": {name: "c", kind: provider.KindGeneration, estimate: 2.0},
	}
	opt := cost.NewOptimizer(src, ledger.NewMemory(), cost.Config{CeilingRatio: 1.5})

	// Ceiling is 1.0 · 1.5 = 1.5: a and b survive, c is out. Among the
	// survivors b has the better performance score.
	scored := opt.Score(provider.KindGeneration,
		descriptorsFor(src, map[string]int{"a": 5, "b": 1, "c": 1}), provider.CostParams{})

	name, ok := opt.Select(context.Background(), cost.CostCeiling, scored)
	require.True(t, ok)
	assert.Equal(t, "b", name)
}

func TestOptimizer_SelectEmptyCandidateSet(t *testing.T) {
	opt := cost.NewOptimizer(pricedSource{}, ledger.NewMemory(), cost.Config{})

	_, ok := opt.Select(context.Background(), cost.LowestCost, nil)
	assert.False(t, ok)
}
