// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package provider defines the capability contract every interchangeable
// backend must satisfy, plus the static descriptor registered alongside it.
// The orchestration layer never speaks a provider's wire protocol; it only
// constructs, health-checks, and cost-estimates through this interface.
package provider

import (
	"context"
	"time"
)

// Kind identifies a provider family.
type Kind string

const (
	KindGeneration    Kind = "generation"
	KindTranscription Kind = "transcription"
	KindStorage       Kind = "storage"
)

// Kinds returns the provider families known to this layer, in stable order.
func Kinds() []Kind {
	return []Kind{KindGeneration, KindTranscription, KindStorage}
}

// Valid reports whether k is a recognized provider family.
func (k Kind) Valid() bool {
	switch k {
	case KindGeneration, KindTranscription, KindStorage:
		return true
	}
	return false
}

// Provider is the capability interface for one interchangeable backend.
// Implementations are expected to apply their own retry/circuit-breaking
// internally; the orchestrator does not wrap resolved instances.
type Provider interface {
	Name() string
	Kind() Kind

	// HealthCheck must be side-effect-light and safely callable under a
	// bounded timeout. A nil return means healthy. Configuration-class
	// errors (see errors.IsInvalidInput) are treated as fatal by the
	// monitor; anything else is transient.
	HealthCheck(ctx context.Context) error

	// EstimateCost returns the estimated cost in USD for a request with
	// the given parameters. Providers without a cost model return 0.
	EstimateCost(params CostParams) float64

	Close() error
}

// CostParams is the generic request-parameter bag mapped onto each provider
// family's cost model: token counts for generation, audio duration for
// transcription, volume and request count for storage.
type CostParams struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
	StorageBytes int64   `json:"storage_bytes,omitempty"`
	Requests     int     `json:"requests,omitempty"`
}

// Units returns the billable unit count for params under a per-million-units
// price: tokens, audio seconds, or bytes, whichever the family uses.
func (p CostParams) Units() float64 {
	switch {
	case p.InputTokens > 0 || p.OutputTokens > 0:
		return float64(p.InputTokens + p.OutputTokens)
	case p.AudioSeconds > 0:
		return p.AudioSeconds
	default:
		return float64(p.StorageBytes)
	}
}

// Descriptor is the immutable static metadata registered with a provider.
type Descriptor struct {
	Name                string        `json:"name"`
	Kind                Kind          `json:"kind"`
	Priority            int           `json:"priority"`
	CostPerRequest      float64       `json:"cost_per_request"`
	CostPerMillionUnits float64       `json:"cost_per_million_units"`
	RateLimit           int           `json:"rate_limit"`
	Timeout             time.Duration `json:"timeout"`
	RetryCount          int           `json:"retry_count"`
	DisplayName         string        `json:"display_name"`
	Description         string        `json:"description"`
}

// PerformanceScore derives a comparable performance figure from the
// descriptor priority: lower priority numbers score higher. The same rule
// feeds weighted round-robin weights so the two stay consistent.
func (d Descriptor) PerformanceScore() float64 {
	p := d.Priority
	if p < 1 {
		p = 1
	}
	return 100 / float64(p)
}

// Options carries the construction-time selectors a caller may supply.
// A non-empty Variant (e.g. a specific model identifier) or a non-nil
// Override always forces a fresh, uncached instance.
type Options struct {
	Variant  string
	Override map[string]any
}

// Constructor builds a provider instance. Registering a typed constructor
// alongside the descriptor replaces runtime introspection of constructor
// signatures: every implementation decides for itself what to do with the
// variant and override fields.
type Constructor func(opts Options) (Provider, error)
