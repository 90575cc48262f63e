// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package balance implements the four load-distribution algorithms the
// orchestrator selects among healthy candidates with.
package balance

import (
	"math/rand"
	"sync"

	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Algorithm names a distribution strategy.
type Algorithm string

const (
	RoundRobin         Algorithm = "round_robin"
	WeightedRoundRobin Algorithm = "weighted_round_robin"
	Random             Algorithm = "random"
	LeastConnections   Algorithm = "least_connections"
)

// ParseAlgorithm validates an algorithm name from configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case RoundRobin, WeightedRoundRobin, Random, LeastConnections:
		return Algorithm(s), nil
	}
	return "", enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
		"unknown balancer algorithm %q", s)
}

// Candidate is one selectable provider name with its descriptor priority.
type Candidate struct {
	Name     string
	Priority int
}

// Weight derives the weighted-round-robin weight from a priority: lower
// priority numbers get proportionally more traffic.
func Weight(priority int) int {
	if priority < 1 {
		priority = 1
	}
	w := 100 / priority
	if w < 1 {
		w = 1
	}
	return w
}

type connKey struct {
	kind provider.Kind
	name string
}

// Distributor holds the mutable per-kind selection state: round-robin
// cursors, smooth-WRR accumulators, and live connection counters.
type Distributor struct {
	mu sync.Mutex

	rrIndex map[provider.Kind]int
	wrrAcc  map[provider.Kind]map[string]int
	conns   map[connKey]int

	// FallbackAll makes an empty healthy set fall back to every
	// registered candidate instead of selecting nothing.
	fallbackAll bool

	rnd *rand.Rand
}

// NewDistributor creates a Distributor. When fallbackAll is true an empty
// healthy candidate set falls back to the full registered set.
func NewDistributor(fallbackAll bool) *Distributor {
	return &Distributor{
		rrIndex:     make(map[provider.Kind]int),
		wrrAcc:      make(map[provider.Kind]map[string]int),
		conns:       make(map[connKey]int),
		fallbackAll: fallbackAll,
		rnd:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// Seed replaces the random source (for testing).
func (d *Distributor) Seed(seed int64) {
	d.mu.Lock()
	d.rnd = rand.New(rand.NewSource(seed))
	d.mu.Unlock()
}

// Pick selects one candidate name. healthy is the health-filtered set; all
// is every registered candidate, used only when healthy is empty and the
// fallback flag is enabled. An empty result set yields ("", false), which
// is not an error by itself.
func (d *Distributor) Pick(kind provider.Kind, algo Algorithm, healthy, all []Candidate) (string, bool) {
	candidates := healthy
	if len(candidates) == 0 && d.fallbackAll {
		candidates = all
	}
	if len(candidates) == 0 {
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch algo {
	case WeightedRoundRobin:
		return d.pickSmoothWeighted(kind, candidates), true
	case Random:
		return candidates[d.rnd.Intn(len(candidates))].Name, true
	case LeastConnections:
		return d.pickLeastConnections(kind, candidates), true
	default:
		return d.pickRoundRobin(kind, candidates), true
	}
}

// pickRoundRobin advances a per-kind monotone cursor modulo the candidate
// count. Caller holds d.mu.
func (d *Distributor) pickRoundRobin(kind provider.Kind, candidates []Candidate) string {
	i := d.rrIndex[kind]
	d.rrIndex[kind] = i + 1
	return candidates[i%len(candidates)].Name
}

// pickSmoothWeighted implements smooth weighted round-robin: every
// candidate's weight is added to its accumulator, the maximum accumulator
// wins, and the sum of all weights is subtracted from the winner only.
// Long-run frequency converges to weight_i / Σweights without bursty runs.
// Caller holds d.mu.
func (d *Distributor) pickSmoothWeighted(kind provider.Kind, candidates []Candidate) string {
	acc, ok := d.wrrAcc[kind]
	if !ok {
		acc = make(map[string]int)
		d.wrrAcc[kind] = acc
	}

	total := 0
	best := ""
	bestAcc := 0
	for _, c := range candidates {
		w := Weight(c.Priority)
		total += w
		acc[c.Name] += w
		if best == "" || acc[c.Name] > bestAcc {
			best = c.Name
			bestAcc = acc[c.Name]
		}
	}
	acc[best] -= total
	return best
}

// pickLeastConnections picks uniformly among the candidates sharing the
// minimum live connection count. Caller holds d.mu.
func (d *Distributor) pickLeastConnections(kind provider.Kind, candidates []Candidate) string {
	minCount := -1
	var ties []string
	for _, c := range candidates {
		n := d.conns[connKey{kind: kind, name: c.Name}]
		switch {
		case minCount < 0 || n < minCount:
			minCount = n
			ties = ties[:0]
			ties = append(ties, c.Name)
		case n == minCount:
			ties = append(ties, c.Name)
		}
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return ties[d.rnd.Intn(len(ties))]
}

// Acquire increments the live connection counter for (kind, name).
func (d *Distributor) Acquire(kind provider.Kind, name string) {
	d.mu.Lock()
	d.conns[connKey{kind: kind, name: name}]++
	d.mu.Unlock()
}

// Release decrements the live connection counter for (kind, name).
func (d *Distributor) Release(kind provider.Kind, name string) {
	d.mu.Lock()
	k := connKey{kind: kind, name: name}
	if d.conns[k] > 0 {
		d.conns[k]--
	}
	d.mu.Unlock()
}

// Connections returns the current live connection count for (kind, name).
func (d *Distributor) Connections(kind provider.Kind, name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[connKey{kind: kind, name: name}]
}
