// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package orchestrator composes the catalog, health monitor, load
// distributor, and cost optimizer behind a single Acquire call.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble-dev/ensemble/internal/balance"
	"github.com/ensemble-dev/ensemble/internal/catalog"
	"github.com/ensemble-dev/ensemble/internal/cost"
	healthmon "github.com/ensemble-dev/ensemble/internal/health"
	"github.com/ensemble-dev/ensemble/internal/ledger"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Strategy names an acquisition policy.
type Strategy string

const (
	HealthFirst      Strategy = "health_first"
	CostFirst        Strategy = "cost_first"
	PerformanceFirst Strategy = "performance_first"
	Balanced         Strategy = "balanced"
	Custom           Strategy = "custom"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case HealthFirst, CostFirst, PerformanceFirst, Balanced, Custom:
		return Strategy(s), nil
	}
	return "", enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
		"unknown orchestrator strategy %q", s)
}

// Weights drive the Balanced strategy's combined score.
type Weights struct {
	Health      float64
	Cost        float64
	Performance float64
}

// DefaultWeights matches the serve-time defaults.
func DefaultWeights() Weights {
	return Weights{Health: 0.4, Cost: 0.3, Performance: 0.3}
}

// Scorer is a caller-supplied scoring function for the Custom strategy.
// Higher scores win.
type Scorer func(name string, desc provider.Descriptor) float64

// Request describes one acquisition.
type Request struct {
	Kind     provider.Kind
	Strategy Strategy

	// Name skips selection entirely and resolves this provider directly.
	Name string

	// Variant and Override force a fresh, uncached instance.
	Variant  string
	Override map[string]any

	// Params feeds cost estimation for the cost-aware strategies.
	Params provider.CostParams

	// Algorithm selects the load-distribution algorithm for HealthFirst.
	Algorithm balance.Algorithm
	// CostStrategy selects the optimizer strategy for CostFirst.
	CostStrategy cost.Strategy
	// Scorer is required by the Custom strategy.
	Scorer Scorer
}

// Acquisition is one resolved provider plus its release hook. Release is
// idempotent and only meaningful for least-connections acquisitions, where
// it decrements the live connection counter.
type Acquisition struct {
	Provider   provider.Provider
	Name       string
	Descriptor provider.Descriptor

	release func()
}

// Release ends the scoped acquisition.
func (a *Acquisition) Release() {
	if a.release != nil {
		a.release()
		a.release = nil
	}
}

// Orchestrator owns the selection decision. It deliberately does not wrap
// resolved instances in its own retry or circuit-breaker layer: every
// provider is assumed to self-apply fault tolerance (see internal/fault),
// an assumption that is documented but not enforced.
type Orchestrator struct {
	catalog     *catalog.Catalog
	monitor     *healthmon.Monitor
	distributor *balance.Distributor
	optimizer   *cost.Optimizer
	usage       ledger.Ledger

	weights Weights

	nowFunc func() time.Time // for testing
}

// New wires an Orchestrator from its collaborators.
func New(cat *catalog.Catalog, mon *healthmon.Monitor, dist *balance.Distributor, opt *cost.Optimizer, usage ledger.Ledger, weights Weights) *Orchestrator {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Orchestrator{
		catalog:     cat,
		monitor:     mon,
		distributor: dist,
		optimizer:   opt,
		usage:       usage,
		weights:     weights,
		nowFunc:     time.Now,
	}
}

// Acquire selects and resolves one provider of the requested kind.
func (o *Orchestrator) Acquire(ctx context.Context, req Request) (*Acquisition, error) {
	if !req.Kind.Valid() {
		return nil, enserr.New(enserr.CodeOrchestratorBadRequest,
			"unknown provider kind: "+string(req.Kind),
			enserr.FieldKind(string(req.Kind)))
	}

	// An explicit name skips selection entirely.
	if req.Name != "" {
		return o.resolve(ctx, req, req.Name)
	}

	name, err := o.selectName(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.resolve(ctx, req, name)
}

// Select runs the selection decision without constructing an instance.
// The operational API uses it for dry-run previews.
func (o *Orchestrator) Select(ctx context.Context, req Request) (string, float64, error) {
	name, err := o.selectName(ctx, req)
	if err != nil {
		return "", 0, err
	}
	return name, o.optimizer.Estimate(req.Kind, name, req.Params), nil
}

func (o *Orchestrator) selectName(ctx context.Context, req Request) (string, error) {
	all := o.catalog.Names(req.Kind)
	if len(all) == 0 {
		return "", enserr.New(enserr.CodeOrchestratorNoProvider,
			"no providers registered for kind "+string(req.Kind),
			enserr.FieldKind(string(req.Kind)))
	}

	// Self-heal: an empty healthy set triggers one synchronous probe pass
	// over the kind before falling back to every registered name.
	healthy := o.monitor.HealthyNames(req.Kind)
	if len(healthy) == 0 {
		o.monitor.ProbeKind(ctx, req.Kind)
		healthy = o.monitor.HealthyNames(req.Kind)
	}
	candidates := healthy
	if len(candidates) == 0 {
		candidates = all
	}

	name, ok := o.dispatch(ctx, req, candidates, all)
	if !ok {
		return "", enserr.New(enserr.CodeOrchestratorNoProvider,
			"no available provider for kind "+string(req.Kind),
			enserr.FieldKind(string(req.Kind)))
	}
	return name, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request, candidates, all []string) (string, bool) {
	switch req.Strategy {
	case HealthFirst:
		return o.distributor.Pick(req.Kind, req.Algorithm,
			o.balanceCandidates(req.Kind, candidates),
			o.balanceCandidates(req.Kind, all))
	case CostFirst:
		scored := o.optimizer.Score(req.Kind, o.descriptors(req.Kind, candidates), req.Params)
		return o.optimizer.Select(ctx, req.CostStrategy, scored)
	case PerformanceFirst:
		return o.pickBestPriority(req.Kind, candidates)
	case Custom:
		return o.pickCustom(req.Kind, candidates, req.Scorer)
	default: // Balanced
		return o.pickBalanced(req.Kind, candidates, req.Params)
	}
}

func (o *Orchestrator) resolve(ctx context.Context, req Request, name string) (*Acquisition, error) {
	inst, err := o.catalog.Resolve(req.Kind, name, catalog.ResolveOptions{
		Variant:  req.Variant,
		Override: req.Override,
	})
	if err != nil {
		return nil, err
	}

	desc, err := o.catalog.Descriptor(req.Kind, name)
	if err != nil {
		return nil, err
	}

	// Only selected acquisitions are metered; an explicit name bypasses
	// selection and its caller does its own accounting. Usage recording
	// never fails an acquisition: the resilient ledger absorbs persistence
	// failures internally.
	if req.Name == "" {
		_ = o.usage.Append(ctx, ledger.Record{
			ID:            uuid.New(),
			Timestamp:     o.nowFunc(),
			Kind:          req.Kind,
			Name:          name,
			Params:        req.Params,
			EstimatedCost: o.optimizer.Estimate(req.Kind, name, req.Params),
		})
	}

	acq := &Acquisition{Provider: inst, Name: name, Descriptor: desc}
	if req.Strategy == HealthFirst && req.Algorithm == balance.LeastConnections {
		kind := req.Kind
		o.distributor.Acquire(kind, name)
		acq.release = func() { o.distributor.Release(kind, name) }
	}
	return acq, nil
}

func (o *Orchestrator) descriptors(kind provider.Kind, names []string) []provider.Descriptor {
	descs := make([]provider.Descriptor, 0, len(names))
	for _, name := range names {
		if d, err := o.catalog.Descriptor(kind, name); err == nil {
			descs = append(descs, d)
		}
	}
	return descs
}

func (o *Orchestrator) balanceCandidates(kind provider.Kind, names []string) []balance.Candidate {
	out := make([]balance.Candidate, 0, len(names))
	for _, d := range o.descriptors(kind, names) {
		out = append(out, balance.Candidate{Name: d.Name, Priority: d.Priority})
	}
	return out
}

// pickBestPriority returns the candidate with the minimum priority value,
// first wins on ties.
func (o *Orchestrator) pickBestPriority(kind provider.Kind, names []string) (string, bool) {
	descs := o.descriptors(kind, names)
	if len(descs) == 0 {
		return "", false
	}
	best := 0
	for i := 1; i < len(descs); i++ {
		if descs[i].Priority < descs[best].Priority {
			best = i
		}
	}
	return descs[best].Name, true
}

// pickBalanced combines a fixed health term with normalized cost and
// performance scores and takes the argmax.
func (o *Orchestrator) pickBalanced(kind provider.Kind, names []string, params provider.CostParams) (string, bool) {
	descs := o.descriptors(kind, names)
	if len(descs) == 0 {
		return "", false
	}

	costs := make([]float64, len(descs))
	perfs := make([]float64, len(descs))
	maxCost, maxPerf := 0.0, 0.0
	for i, d := range descs {
		costs[i] = o.optimizer.Estimate(kind, d.Name, params)
		perfs[i] = d.PerformanceScore()
		if costs[i] > maxCost {
			maxCost = costs[i]
		}
		if perfs[i] > maxPerf {
			maxPerf = perfs[i]
		}
	}

	best := -1
	bestScore := 0.0
	for i := range descs {
		// Candidates are already health-filtered; the health term is a
		// constant 1.0 so the weights keep their configured proportions.
		score := o.weights.Health
		if maxCost > 0 {
			score += o.weights.Cost * (1 - costs[i]/maxCost)
		} else {
			score += o.weights.Cost
		}
		if maxPerf > 0 {
			score += o.weights.Performance * (perfs[i] / maxPerf)
		}
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return descs[best].Name, true
}

func (o *Orchestrator) pickCustom(kind provider.Kind, names []string, scorer Scorer) (string, bool) {
	if scorer == nil {
		return "", false
	}
	descs := o.descriptors(kind, names)
	if len(descs) == 0 {
		return "", false
	}

	best := -1
	bestScore := 0.0
	for i, d := range descs {
		score := scorer(d.Name, d)
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return descs[best].Name, true
}
