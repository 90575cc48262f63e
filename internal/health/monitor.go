// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package health implements the provider health monitor: cached verdicts
// with sticky-optimistic hysteresis over transient failures and immediate
// demotion on configuration-class failures.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
	"github.com/ensemble-dev/ensemble/pkg/health"
)

const (
	// DefaultCacheTTL is how long a probe verdict is served without re-probing.
	DefaultCacheTTL = 30 * time.Second
	// DefaultProbeTimeout bounds a single HealthCheck call.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultFailureThreshold is how many consecutive transient failures
	// flip a provider to unhealthy.
	DefaultFailureThreshold = 3
)

// Resolver is the narrow catalog surface the monitor needs: cached
// singleton resolution plus name enumeration.
type Resolver interface {
	Get(kind provider.Kind, name string) (provider.Provider, error)
	Names(kind provider.Kind) []string
}

// Config tunes the monitor. Zero values fall back to the defaults above.
type Config struct {
	CacheTTL         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
}

type recordKey struct {
	kind provider.Kind
	name string
}

type record struct {
	status              health.Status
	lastCheck           time.Time
	consecutiveFailures int
	totalChecks         int64
	totalFailures       int64
	errMsg              string
}

// Monitor caches health verdicts per (kind, name). Records are created
// lazily on first probe, mutated only under the monitor's lock, and never
// deleted — only reset by an explicit Clear.
type Monitor struct {
	source Resolver
	cfg    Config

	mu      sync.Mutex
	records map[recordKey]*record

	nowFunc func() time.Time // for testing
}

// NewMonitor creates a Monitor over the given provider source.
func NewMonitor(source Resolver, cfg Config) *Monitor {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Monitor{
		source:  source,
		cfg:     cfg,
		records: make(map[recordKey]*record),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (m *Monitor) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

// Probe returns the health record for (kind, name), re-checking the
// provider when the cached verdict is stale or force is set. Probe failures
// are absorbed into the record and never returned to the caller.
func (m *Monitor) Probe(ctx context.Context, kind provider.Kind, name string, force bool) health.Record {
	k := recordKey{kind: kind, name: name}

	m.mu.Lock()
	rec, ok := m.records[k]
	if !ok {
		rec = &record{status: health.StatusUnknown}
		m.records[k] = rec
	}
	if rec.status == health.StatusChecking {
		// Another probe is already in flight; its verdict will be as
		// fresh as ours would be, so return the current snapshot instead
		// of duplicating the check.
		snap := m.snapshotLocked(k, rec)
		m.mu.Unlock()
		return snap
	}
	now := m.nowFunc()
	if !force && rec.status != health.StatusUnknown && now.Sub(rec.lastCheck) < m.cfg.CacheTTL {
		snap := m.snapshotLocked(k, rec)
		m.mu.Unlock()
		return snap
	}
	rec.status = health.StatusChecking
	m.mu.Unlock()

	err := m.check(ctx, kind, name)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec.lastCheck = m.nowFunc()
	rec.totalChecks++

	switch {
	case err == nil:
		rec.status = health.StatusHealthy
		rec.consecutiveFailures = 0
		rec.errMsg = ""
	case isFatal(err):
		// Missing or invalid configuration will not heal on its own;
		// demote immediately, bypassing the threshold.
		rec.status = health.StatusUnhealthy
		rec.consecutiveFailures++
		rec.totalFailures++
		rec.errMsg = err.Error()
	default:
		rec.consecutiveFailures++
		rec.totalFailures++
		rec.errMsg = err.Error()
		if rec.consecutiveFailures >= m.cfg.FailureThreshold {
			rec.status = health.StatusUnhealthy
		} else {
			// Sticky-optimistic: stay (or become) healthy until the
			// threshold is reached.
			rec.status = health.StatusHealthy
		}
	}

	return m.snapshotLocked(k, rec)
}

// check resolves the provider and runs its HealthCheck under the probe
// timeout. No monitor lock is held here.
func (m *Monitor) check(ctx context.Context, kind provider.Kind, name string) error {
	p, err := m.source.Get(kind, name)
	if err != nil {
		// A provider that cannot even be resolved is a registration or
		// configuration defect, which the hysteresis treats as fatal.
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.HealthCheck(probeCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-probeCtx.Done():
		return enserr.Wrap(probeCtx.Err(), enserr.CodeHealthProbeTimeout,
			"health check timed out",
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}
}

// HealthyNames returns every name of the kind whose cached status is healthy.
func (m *Monitor) HealthyNames(kind provider.Kind) []string {
	all := m.source.Names(kind)

	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, name := range all {
		rec, ok := m.records[recordKey{kind: kind, name: name}]
		if ok && rec.status == health.StatusHealthy {
			names = append(names, name)
		}
	}
	return names
}

// ProbeKind probes every registered name of one kind concurrently. One
// provider's failure never blocks or fails another's probe; the worst case
// is a single probe-timeout period, not one per provider.
func (m *Monitor) ProbeKind(ctx context.Context, kind provider.Kind) {
	var wg sync.WaitGroup
	for _, name := range m.source.Names(kind) {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.Probe(ctx, kind, name, true)
		}(name)
	}
	wg.Wait()
}

// ProbeAll fans ProbeKind out across every provider family.
func (m *Monitor) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, kind := range provider.Kinds() {
		wg.Add(1)
		go func(kind provider.Kind) {
			defer wg.Done()
			m.ProbeKind(ctx, kind)
		}(kind)
	}
	wg.Wait()
}

// Record returns the current snapshot for (kind, name) without probing.
func (m *Monitor) Record(kind provider.Kind, name string) (health.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{kind: kind, name: name}
	rec, ok := m.records[k]
	if !ok {
		return health.Record{}, false
	}
	return m.snapshotLocked(k, rec), true
}

// Records returns snapshots of every record the monitor has created.
func (m *Monitor) Records() []health.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]health.Record, 0, len(m.records))
	for k, rec := range m.records {
		out = append(out, m.snapshotLocked(k, rec))
	}
	return out
}

// Clear resets the record for (kind, name) back to unknown.
func (m *Monitor) Clear(kind provider.Kind, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{kind: kind, name: name}
	if _, ok := m.records[k]; ok {
		m.records[k] = &record{status: health.StatusUnknown}
	}
}

func (m *Monitor) snapshotLocked(k recordKey, rec *record) health.Record {
	return health.Record{
		Kind:                string(k.kind),
		Name:                k.name,
		Status:              rec.status,
		LastCheck:           rec.lastCheck,
		ConsecutiveFailures: rec.consecutiveFailures,
		TotalChecks:         rec.totalChecks,
		TotalFailures:       rec.totalFailures,
		Error:               rec.errMsg,
	}
}

// isFatal reports whether a probe error is configuration-class and should
// bypass the failure threshold.
func isFatal(err error) bool {
	return enserr.IsInvalidInput(err) || enserr.IsNotFound(err) ||
		enserr.HasCode(err, enserr.CodeProviderConfigInvalid) ||
		enserr.HasCode(err, enserr.CodeCatalogConstructFailure)
}
