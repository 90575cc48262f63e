// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package cost implements request cost estimation and the budget-aware
// selection strategies over a candidate set.
package cost

import (
	"context"
	"time"

	"github.com/ensemble-dev/ensemble/internal/ledger"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Strategy names a cost-aware selection policy.
type Strategy string

const (
	LowestCost             Strategy = "lowest_cost"
	CostPerformanceBalance Strategy = "cost_performance_balance"
	BudgetConstrained      Strategy = "budget_constrained"
	CostCeiling            Strategy = "cost_ceiling"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case LowestCost, CostPerformanceBalance, BudgetConstrained, CostCeiling:
		return Strategy(s), nil
	}
	return "", enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
		"unknown cost strategy %q", s)
}

// Scored is the ephemeral per-candidate score computed for one selection
// call and discarded afterwards.
type Scored struct {
	Name             string
	EstimatedCost    float64
	PerformanceScore float64
	CombinedScore    float64
}

// Config tunes the optimizer.
type Config struct {
	// DailyBudget caps estimated spend per UTC day for BudgetConstrained.
	// Zero means unlimited.
	DailyBudget float64
	// CostWeight and PerformanceWeight drive CostPerformanceBalance.
	CostWeight        float64
	PerformanceWeight float64
	// CeilingRatio keeps candidates within ratio × the cheapest estimate
	// for CostCeiling.
	CeilingRatio float64
}

func (c Config) withDefaults() Config {
	if c.CostWeight == 0 && c.PerformanceWeight == 0 {
		c.CostWeight = 0.5
		c.PerformanceWeight = 0.5
	}
	if c.CeilingRatio <= 0 {
		c.CeilingRatio = 1.5
	}
	return c
}

// Estimator resolves a provider's cost call. The catalog satisfies this.
type Estimator interface {
	Get(kind provider.Kind, name string) (provider.Provider, error)
}

// Optimizer estimates request costs and applies budget-aware strategies
// over the usage ledger's daily spend.
type Optimizer struct {
	source Estimator
	usage  ledger.Ledger
	cfg    Config

	nowFunc func() time.Time // for testing
}

// NewOptimizer creates an Optimizer over the given provider source and
// usage ledger.
func NewOptimizer(source Estimator, usage ledger.Ledger, cfg Config) *Optimizer {
	return &Optimizer{
		source:  source,
		usage:   usage,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (o *Optimizer) SetNowFunc(fn func() time.Time) { o.nowFunc = fn }

// Estimate maps the generic parameter bag onto the provider's own cost
// model. A provider that cannot be resolved estimates 0 — the caller is
// selecting, not failing.
func (o *Optimizer) Estimate(kind provider.Kind, name string, params provider.CostParams) float64 {
	p, err := o.source.Get(kind, name)
	if err != nil {
		return 0
	}
	return p.EstimateCost(params)
}

// Score builds the per-candidate score set for one selection call.
func (o *Optimizer) Score(kind provider.Kind, candidates []provider.Descriptor, params provider.CostParams) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, d := range candidates {
		scored = append(scored, Scored{
			Name:             d.Name,
			EstimatedCost:    o.Estimate(kind, d.Name, params),
			PerformanceScore: d.PerformanceScore(),
		})
	}
	return scored
}

// DailyUsed returns the estimated spend recorded for the current UTC day.
func (o *Optimizer) DailyUsed(ctx context.Context) float64 {
	now := o.nowFunc().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	days, err := o.usage.SummarizeByDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		// The resilient ledger absorbs persistence failures; any error
		// here still must not fail selection.
		return 0
	}
	for _, d := range days {
		if d.Day == ledger.DayOf(now) {
			return d.EstimatedCost
		}
	}
	return 0
}

// Select applies the strategy over the scored candidates. An empty result
// ("", false) means no candidate survived — not an error by itself. Ties
// break deterministically by input order.
func (o *Optimizer) Select(ctx context.Context, strategy Strategy, scored []Scored) (string, bool) {
	if len(scored) == 0 {
		return "", false
	}

	switch strategy {
	case CostPerformanceBalance:
		return o.selectBalanced(scored), true
	case BudgetConstrained:
		return o.selectWithinBudget(ctx, scored)
	case CostCeiling:
		return o.selectUnderCeiling(scored)
	default: // LowestCost
		return o.selectCheapest(scored), true
	}
}

// selectCheapest returns the globally minimal-cost candidate, first wins.
func (o *Optimizer) selectCheapest(scored []Scored) string {
	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].EstimatedCost < scored[best].EstimatedCost {
			best = i
		}
	}
	return scored[best].Name
}

// selectBalanced minimizes cost·wc + (1/performance)·wp.
func (o *Optimizer) selectBalanced(scored []Scored) string {
	best := -1
	for i := range scored {
		perf := scored[i].PerformanceScore
		if perf <= 0 {
			perf = 1
		}
		scored[i].CombinedScore = scored[i].EstimatedCost*o.cfg.CostWeight +
			(1/perf)*o.cfg.PerformanceWeight
		if best < 0 || scored[i].CombinedScore < scored[best].CombinedScore {
			best = i
		}
	}
	return scored[best].Name
}

// selectWithinBudget keeps candidates whose estimate fits the remaining
// daily budget, then picks the best performer among the survivors.
func (o *Optimizer) selectWithinBudget(ctx context.Context, scored []Scored) (string, bool) {
	if o.cfg.DailyBudget <= 0 {
		return o.selectBestPerformer(scored), true
	}

	used := o.DailyUsed(ctx)

	var survivors []Scored
	for _, s := range scored {
		if used+s.EstimatedCost <= o.cfg.DailyBudget {
			survivors = append(survivors, s)
		}
	}
	if len(survivors) == 0 {
		return "", false
	}
	return o.selectBestPerformer(survivors), true
}

// selectUnderCeiling keeps candidates within CeilingRatio of the cheapest
// estimate, then picks the best performer among the survivors.
func (o *Optimizer) selectUnderCeiling(scored []Scored) (string, bool) {
	minCost := scored[0].EstimatedCost
	for _, s := range scored[1:] {
		if s.EstimatedCost < minCost {
			minCost = s.EstimatedCost
		}
	}

	ceiling := minCost * o.cfg.CeilingRatio
	var survivors []Scored
	for _, s := range scored {
		if s.EstimatedCost <= ceiling {
			survivors = append(survivors, s)
		}
	}
	if len(survivors) == 0 {
		return "", false
	}
	return o.selectBestPerformer(survivors), true
}

func (o *Optimizer) selectBestPerformer(scored []Scored) string {
	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].PerformanceScore > scored[best].PerformanceScore {
			best = i
		}
	}
	return scored[best].Name
}
