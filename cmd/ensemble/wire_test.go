// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-dev/ensemble/internal/config"
	"github.com/ensemble-dev/ensemble/internal/provider"
)

func testSystemConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{Listen: "127.0.0.1:0"},
		Ledger: config.LedgerConfig{Backend: "memory"},
		Providers: map[string]config.ProviderConfig{
			"local-objects": {
				Kind:           "storage",
				Impl:           "localfs",
				Priority:       1,
				CostPerRequest: 0.001,
				Root:           filepath.Join(t.TempDir(), "objects"),
			},
		},
	}
}

func TestWireSystem(t *testing.T) {
	sys, err := WireSystem(testSystemConfig(t), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	assert.NotNil(t, sys.Catalog)
	assert.NotNil(t, sys.Monitor)
	assert.NotNil(t, sys.Breakers)
	assert.NotNil(t, sys.Distributor)
	assert.NotNil(t, sys.Usage)
	assert.NotNil(t, sys.Optimizer)
	assert.NotNil(t, sys.Orchestrator)
	assert.NotNil(t, sys.Server)

	assert.Equal(t, []string{"local-objects"}, sys.Catalog.Names(provider.KindStorage))
}

func TestWireSystem_SkipsUnknownImplementations(t *testing.T) {
	cfg := testSystemConfig(t)
	cfg.Providers["mystery"] = config.ProviderConfig{Kind: "generation", Impl: "telepathy"}

	sys, err := WireSystem(cfg, t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	// The unknown implementation is skipped, not fatal.
	assert.Empty(t, sys.Catalog.Names(provider.KindGeneration))
	assert.Equal(t, []string{"local-objects"}, sys.Catalog.Names(provider.KindStorage))
}

func TestWireSystem_SQLiteLedger(t *testing.T) {
	cfg := testSystemConfig(t)
	cfg.Ledger.Backend = "sqlite"

	dataDir := t.TempDir()
	sys, err := WireSystem(cfg, dataDir)
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	// The usage database lands in the data directory.
	matches, err := filepath.Glob(filepath.Join(dataDir, "usage.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSystem_ServesProvidersEndpoint(t *testing.T) {
	sys, err := WireSystem(testSystemConfig(t), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rr := httptest.NewRecorder()
	sys.Server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "local-objects")
}

func TestSystem_CircuitsReportProviderBreaker(t *testing.T) {
	sys, err := WireSystem(testSystemConfig(t), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	// Each registered provider owns a named breaker from the shared
	// registry, and its health check runs through it.
	sys.Monitor.ProbeAll(context.Background())

	snaps := sys.Breakers.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "local-objects", snaps[0].Name)
	assert.Zero(t, snaps[0].Failures)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/circuits", nil)
	rr := httptest.NewRecorder()
	sys.Server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "local-objects")
	assert.Contains(t, rr.Body.String(), "closed")
}

func TestSystem_GracefulShutdown(t *testing.T) {
	sys, err := WireSystem(testSystemConfig(t), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Start and let the context expire — shutdown must be clean.
	err = sys.Server.Start(ctx)
	assert.NoError(t, err)
}

func TestSystem_ProbeAllFindsLocalStoreHealthy(t *testing.T) {
	sys, err := WireSystem(testSystemConfig(t), t.TempDir())
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	sys.Monitor.ProbeAll(context.Background())

	healthy := sys.Monitor.HealthyNames(provider.KindStorage)
	assert.Equal(t, []string{"local-objects"}, healthy)
}
