// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ensemble-dev/ensemble/internal/provider"
)

func TestKindValid(t *testing.T) {
	for _, kind := range provider.Kinds() {
		assert.True(t, kind.Valid(), string(kind))
	}

	assert.False(t, provider.Kind("").Valid())
	assert.False(t, provider.Kind("database").Valid())
	assert.False(t, provider.Kind("Generation").Valid())
}

func TestKindsStableOrder(t *testing.T) {
	assert.Equal(t, []provider.Kind{
		provider.KindGeneration,
		provider.KindTranscription,
		provider.KindStorage,
	}, provider.Kinds())
}

func TestCostParamsUnits(t *testing.T) {
	// Generation bills tokens, input and output combined.
	assert.InDelta(t, 1500, provider.CostParams{InputTokens: 1200, OutputTokens: 300}.Units(), 1e-9)
	// Transcription bills audio seconds.
	assert.InDelta(t, 92.5, provider.CostParams{AudioSeconds: 92.5}.Units(), 1e-9)
	// Storage bills bytes.
	assert.InDelta(t, 2048, provider.CostParams{StorageBytes: 2048}.Units(), 1e-9)
	// Token counts take precedence over the byte fallback.
	assert.InDelta(t, 10, provider.CostParams{InputTokens: 10, StorageBytes: 2048}.Units(), 1e-9)
	assert.Zero(t, provider.CostParams{}.Units())
}

func TestDescriptorPerformanceScore(t *testing.T) {
	assert.InDelta(t, 100, provider.Descriptor{Priority: 1}.PerformanceScore(), 1e-9)
	assert.InDelta(t, 50, provider.Descriptor{Priority: 2}.PerformanceScore(), 1e-9)
	assert.InDelta(t, 10, provider.Descriptor{Priority: 10}.PerformanceScore(), 1e-9)
	// Zero and negative priorities clamp to 1.
	assert.InDelta(t, 100, provider.Descriptor{}.PerformanceScore(), 1e-9)
	assert.InDelta(t, 100, provider.Descriptor{Priority: -3}.PerformanceScore(), 1e-9)
}
