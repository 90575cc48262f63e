// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package config loads and validates the Ensemble configuration with
// viper: defaults, ENSEMBLE_ environment overrides, and an optional YAML
// file, in the standard precedence order.
package config

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ensemble-dev/ensemble/internal/balance"
	"github.com/ensemble-dev/ensemble/internal/cost"
	"github.com/ensemble-dev/ensemble/internal/fault"
	"github.com/ensemble-dev/ensemble/internal/orchestrator"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Config is the top-level Ensemble configuration.
type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Health       HealthConfig              `mapstructure:"health"`
	Retry        RetryConfig               `mapstructure:"retry"`
	Circuit      CircuitConfig             `mapstructure:"circuit"`
	Balancer     BalancerConfig            `mapstructure:"balancer"`
	Cost         CostConfig                `mapstructure:"cost"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator"`
	Ledger       LedgerConfig              `mapstructure:"ledger"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
}

// ServerConfig controls the operational HTTP API.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
}

// RetryConfig tunes the default retry policy handed to providers.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	ExponentialBase float64       `mapstructure:"exponential_base"`
	Jitter          bool          `mapstructure:"jitter"`
}

// CircuitConfig tunes the shared circuit-breaker defaults.
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// BalancerConfig selects the load-distribution algorithm.
type BalancerConfig struct {
	Algorithm   string `mapstructure:"algorithm"`
	FallbackAll bool   `mapstructure:"fallback_all"`
}

// CostConfig tunes the cost optimizer.
type CostConfig struct {
	DailyBudgetUSD    float64 `mapstructure:"daily_budget_usd"`
	CostWeight        float64 `mapstructure:"cost_weight"`
	PerformanceWeight float64 `mapstructure:"performance_weight"`
	CeilingRatio      float64 `mapstructure:"ceiling_ratio"`
}

// OrchestratorConfig selects the default acquisition strategy and the
// Balanced strategy's weights.
type OrchestratorConfig struct {
	Strategy string        `mapstructure:"strategy"`
	Weights  WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds the Balanced strategy weights.
type WeightsConfig struct {
	Health      float64 `mapstructure:"health"`
	Cost        float64 `mapstructure:"cost"`
	Performance float64 `mapstructure:"performance"`
}

// LedgerConfig selects the usage ledger backend.
type LedgerConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// ProviderConfig declares one provider registration.
type ProviderConfig struct {
	Kind                string        `mapstructure:"kind"`
	Impl                string        `mapstructure:"impl"`
	Priority            int           `mapstructure:"priority"`
	CostPerRequest      float64       `mapstructure:"cost_per_request"`
	CostPerMillionUnits float64       `mapstructure:"cost_per_million_units"`
	RateLimit           int           `mapstructure:"rate_limit"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RetryCount          int           `mapstructure:"retry_count"`
	DisplayName         string        `mapstructure:"display_name"`
	Description         string        `mapstructure:"description"`
	// Root is the storage directory for localfs providers.
	Root string `mapstructure:"root"`
}

// Descriptor converts the provider config into the immutable descriptor
// registered with the catalog.
func (p ProviderConfig) Descriptor(name string) provider.Descriptor {
	return provider.Descriptor{
		Name:                name,
		Kind:                provider.Kind(p.Kind),
		Priority:            p.Priority,
		CostPerRequest:      p.CostPerRequest,
		CostPerMillionUnits: p.CostPerMillionUnits,
		RateLimit:           p.RateLimit,
		Timeout:             p.Timeout,
		RetryCount:          p.RetryCount,
		DisplayName:         p.DisplayName,
		Description:         p.Description,
	}
}

// SetDefaults installs the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18630")
	v.SetDefault("health.cache_ttl", "30s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.probe_interval", "60s")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "200ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.exponential_base", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.success_threshold", 2)
	v.SetDefault("circuit.timeout", "60s")
	v.SetDefault("balancer.algorithm", string(balance.RoundRobin))
	v.SetDefault("balancer.fallback_all", true)
	v.SetDefault("cost.daily_budget_usd", 50.0)
	v.SetDefault("cost.cost_weight", 0.5)
	v.SetDefault("cost.performance_weight", 0.5)
	v.SetDefault("cost.ceiling_ratio", 1.5)
	v.SetDefault("orchestrator.strategy", string(orchestrator.Balanced))
	v.SetDefault("orchestrator.weights.health", 0.4)
	v.SetDefault("orchestrator.weights.cost", 0.3)
	v.SetDefault("orchestrator.weights.performance", 0.3)
	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.retention_days", 90)
}

// SetupEnv binds the ENSEMBLE_ environment prefix on v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, enserr.Errorf(enserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, enserr.Errorf(enserr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, enserr.Errorf(enserr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateSelection()...)
	errs = append(errs, c.validateLedger()...)
	errs = append(errs, c.validateProviders()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
				"config: server.listen must be host:port, got %q", c.Server.Listen))
		}
	}
	return errs
}

func (c *Config) validateSelection() []error {
	var errs []error

	if _, err := balance.ParseAlgorithm(c.Balancer.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if _, err := orchestrator.ParseStrategy(c.Orchestrator.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
			"config: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Circuit.FailureThreshold < 1 || c.Circuit.SuccessThreshold < 1 {
		errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
			"config: circuit thresholds must be at least 1"))
	}
	if c.Cost.DailyBudgetUSD < 0 {
		errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
			"config: cost.daily_budget_usd must be non-negative, got %g", c.Cost.DailyBudgetUSD))
	}
	return errs
}

func (c *Config) validateLedger() []error {
	var errs []error

	switch c.Ledger.Backend {
	case "", "sqlite", "memory":
	default:
		errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
			"config: ledger.backend must be one of [sqlite, memory], got %q", c.Ledger.Backend))
	}
	if c.Ledger.RetentionDays < 0 {
		errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
			"config: ledger.retention_days must be non-negative, got %d", c.Ledger.RetentionDays))
	}
	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	for name, p := range c.Providers {
		if !provider.Kind(p.Kind).Valid() {
			errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
				"config: providers.%s.kind must be one of [generation, transcription, storage], got %q", name, p.Kind))
		}
		if p.Priority < 0 {
			errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
				"config: providers.%s.priority must be non-negative, got %d", name, p.Priority))
		}
		if p.CostPerRequest < 0 || p.CostPerMillionUnits < 0 {
			errs = append(errs, enserr.Errorf(enserr.CodeConfigValidateInvalidValue,
				"config: providers.%s costs must be non-negative", name))
		}
	}
	return errs
}

// RetryPolicy converts to the fault package's retry policy. Retryable is
// left nil; each provider supplies its own error classification.
func (c *Config) RetryPolicy() fault.Policy {
	return fault.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialDelay:    c.Retry.InitialDelay,
		MaxDelay:        c.Retry.MaxDelay,
		ExponentialBase: c.Retry.ExponentialBase,
		Jitter:          c.Retry.Jitter,
	}
}

// BreakerDefaults converts to the breaker registry's shared defaults.
func (c *Config) BreakerDefaults() fault.BreakerConfig {
	return fault.BreakerConfig{
		FailureThreshold: c.Circuit.FailureThreshold,
		SuccessThreshold: c.Circuit.SuccessThreshold,
		Timeout:          c.Circuit.Timeout,
	}
}

// CostOptimizerConfig converts to the optimizer's own config type.
func (c *Config) CostOptimizerConfig() cost.Config {
	return cost.Config{
		DailyBudget:       c.Cost.DailyBudgetUSD,
		CostWeight:        c.Cost.CostWeight,
		PerformanceWeight: c.Cost.PerformanceWeight,
		CeilingRatio:      c.Cost.CeilingRatio,
	}
}

// OrchestratorWeights converts to the orchestrator's weights type.
func (c *Config) OrchestratorWeights() orchestrator.Weights {
	return orchestrator.Weights{
		Health:      c.Orchestrator.Weights.Health,
		Cost:        c.Orchestrator.Weights.Cost,
		Performance: c.Orchestrator.Weights.Performance,
	}
}
