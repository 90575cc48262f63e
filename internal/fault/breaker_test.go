// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package fault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

func failN(n int) func(context.Context) error {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return errors.New("boom")
		}
		return nil
	}
}

func alwaysFail(context.Context) error { return errors.New("boom") }
func alwaysOK(context.Context) error   { return nil }

func TestBreaker_TripsAtFailureThreshold(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, b.Do(ctx, alwaysFail))
	}
	assert.Equal(t, StateOpen, b.Snapshot().State)

	// While open the operation is never invoked.
	invoked := false
	err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, enserr.IsCircuitOpen(err))
	assert.False(t, invoked)
}

func TestBreaker_SuccessResetsClosedFailureCount(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	require.Error(t, b.Do(ctx, alwaysFail))
	require.Error(t, b.Do(ctx, alwaysFail))
	require.NoError(t, b.Do(ctx, alwaysOK))

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.Failures)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	now := time.Now()
	b.SetNowFunc(func() time.Time { return now })

	require.Error(t, b.Do(ctx, alwaysFail))
	require.Equal(t, StateOpen, b.Snapshot().State)

	// Before the timeout elapses the breaker still fails fast.
	now = now.Add(30 * time.Second)
	err := b.Do(ctx, alwaysOK)
	require.Error(t, err)
	assert.True(t, enserr.IsCircuitOpen(err))

	// After the timeout one trial call is admitted.
	now = now.Add(31 * time.Second)
	require.NoError(t, b.Do(ctx, alwaysOK))
	assert.Equal(t, StateHalfOpen, b.Snapshot().State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	now := time.Now()
	b.SetNowFunc(func() time.Time { return now })

	require.Error(t, b.Do(ctx, alwaysFail))
	now = now.Add(2 * time.Minute)

	// The trial call fails: straight back to open, trial progress discarded.
	require.Error(t, b.Do(ctx, alwaysFail))
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 0, snap.Successes)

	err := b.Do(ctx, alwaysOK)
	require.Error(t, err)
	assert.True(t, enserr.IsCircuitOpen(err))
}

func TestBreaker_SuccessThresholdCloses(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	now := time.Now()
	b.SetNowFunc(func() time.Time { return now })

	require.Error(t, b.Do(ctx, alwaysFail))
	now = now.Add(2 * time.Minute)

	require.NoError(t, b.Do(ctx, alwaysOK))
	require.Equal(t, StateHalfOpen, b.Snapshot().State)

	require.NoError(t, b.Do(ctx, alwaysOK))
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.Failures)
	assert.Equal(t, 0, snap.Successes)
}

func TestBreaker_RecoversThroughOperation(t *testing.T) {
	b := NewBreaker("upstream", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	now := time.Now()
	b.SetNowFunc(func() time.Time { return now })

	op := failN(2)
	require.Error(t, b.Do(ctx, op))
	require.Error(t, b.Do(ctx, op))
	require.Equal(t, StateOpen, b.Snapshot().State)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Do(ctx, op))
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreakers_SingletonPerName(t *testing.T) {
	reg := NewBreakers(DefaultBreakerConfig())

	a := reg.Get("openai")
	b := reg.Get("openai")
	c := reg.Get("anthropic")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "openai", a.Name())
}

func TestBreakers_Snapshots(t *testing.T) {
	reg := NewBreakers(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	require.Error(t, reg.Get("flaky").Do(ctx, alwaysFail))
	reg.Get("quiet")

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)

	byName := make(map[string]BreakerSnapshot, len(snaps))
	for _, s := range snaps {
		byName[s.Name] = s
	}
	assert.Equal(t, StateOpen, byName["flaky"].State)
	assert.Equal(t, StateClosed, byName["quiet"].State)
}
