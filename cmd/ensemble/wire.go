// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ensemble-dev/ensemble/internal/balance"
	"github.com/ensemble-dev/ensemble/internal/catalog"
	"github.com/ensemble-dev/ensemble/internal/config"
	"github.com/ensemble-dev/ensemble/internal/cost"
	"github.com/ensemble-dev/ensemble/internal/fault"
	healthmon "github.com/ensemble-dev/ensemble/internal/health"
	"github.com/ensemble-dev/ensemble/internal/ledger"
	"github.com/ensemble-dev/ensemble/internal/orchestrator"
	"github.com/ensemble-dev/ensemble/internal/provider"
	"github.com/ensemble-dev/ensemble/internal/provider/localfs"
	"github.com/ensemble-dev/ensemble/internal/server"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// System holds all wired subsystems. It is the process-wide registry
// object: constructed once at startup and injected into every consumer, so
// no subsystem relies on hidden global state.
type System struct {
	Config       *config.Config
	Catalog      *catalog.Catalog
	Monitor      *healthmon.Monitor
	Breakers     *fault.Breakers
	Distributor  *balance.Distributor
	Usage        ledger.Ledger
	Optimizer    *cost.Optimizer
	Orchestrator *orchestrator.Orchestrator
	Server       *server.Server
}

// Close releases the system's resources.
func (s *System) Close() error {
	var errs []error
	if err := s.Catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Usage.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return enserr.Join(errs...)
	}
	return nil
}

// WireSystem creates all subsystems and wires them together. The dataDir
// is the root directory for persistent state (the usage database).
func WireSystem(cfg *config.Config, dataDir string) (*System, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, enserr.Errorf(enserr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// 1. Breaker registry and catalog. The breakers exist before
	// registration so every provider is constructed with its own named
	// breaker and the configured retry policy.
	breakers := fault.NewBreakers(cfg.BreakerDefaults())

	cat := catalog.New()
	if err := registerConfiguredProviders(cfg, cat, breakers); err != nil {
		return nil, err
	}

	// 2. Usage ledger. The sqlite backend is wrapped so persistence
	// failures downgrade to memory-only tracking instead of failing
	// acquisitions.
	usage, err := buildLedger(cfg, dataDir)
	if err != nil {
		return nil, err
	}

	// 3. Health monitor, distributor, optimizer.
	monitor := healthmon.NewMonitor(cat, healthmon.Config{
		CacheTTL:         cfg.Health.CacheTTL,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	})

	distributor := balance.NewDistributor(cfg.Balancer.FallbackAll)
	optimizer := cost.NewOptimizer(cat, usage, cfg.CostOptimizerConfig())

	// 4. Orchestrator.
	orch := orchestrator.New(cat, monitor, distributor, optimizer, usage, cfg.OrchestratorWeights())

	// 5. Operational API.
	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, server.Deps{
		Catalog:      cat,
		Monitor:      monitor,
		Breakers:     breakers,
		Usage:        usage,
		Orchestrator: orch,
	})
	if err != nil {
		_ = usage.Close()
		return nil, err
	}

	return &System{
		Config:       cfg,
		Catalog:      cat,
		Monitor:      monitor,
		Breakers:     breakers,
		Distributor:  distributor,
		Usage:        usage,
		Optimizer:    optimizer,
		Orchestrator: orch,
		Server:       srv,
	}, nil
}

func buildLedger(cfg *config.Config, dataDir string) (ledger.Ledger, error) {
	if cfg.Ledger.Backend == "memory" {
		return ledger.NewMemory(), nil
	}

	path := cfg.Ledger.Path
	if path == "" {
		path = filepath.Join(dataDir, "usage.db")
	}
	primary, err := ledger.NewSQLite(path)
	if err != nil {
		// Degraded from the start: usage tracking must not prevent the
		// process from serving.
		slog.Warn("opening usage ledger failed; tracking in memory only", "path", path, "error", err)
		return ledger.NewMemory(), nil
	}
	return ledger.NewResilient(primary), nil
}

// registerConfiguredProviders registers each provider declared in config
// with its typed constructor. Every in-tree implementation receives the
// configured retry policy and its named breaker from the shared registry,
// so fault isolation composes inside the provider, not around it. Only
// implementations that need no external wire protocol ship in-tree;
// everything else is registered by the host process through
// catalog.Register at startup.
func registerConfiguredProviders(cfg *config.Config, cat *catalog.Catalog, breakers *fault.Breakers) error {
	retry := cfg.RetryPolicy()

	for name, pc := range cfg.Providers {
		kind := provider.Kind(pc.Kind)
		desc := pc.Descriptor(name)

		var ctor provider.Constructor
		switch pc.Impl {
		case "localfs":
			ctor = localfs.New(localfs.Config{
				Name:                name,
				Root:                pc.Root,
				CostPerRequest:      pc.CostPerRequest,
				CostPerMillionBytes: pc.CostPerMillionUnits,
				Retry:               retry,
				Breaker:             breakers.Get(name),
			})
		default:
			slog.Warn("skipping provider with unknown implementation", "provider", name, "impl", pc.Impl)
			continue
		}

		if err := cat.Register(kind, name, ctor, desc); err != nil {
			return err
		}
	}
	return nil
}
