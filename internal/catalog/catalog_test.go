// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-dev/ensemble/internal/catalog"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// fakeProvider is a minimal capability implementation for catalog tests.
type fakeProvider struct {
	name    string
	kind    provider.Kind
	variant string
	closed  bool
}

func (f *fakeProvider) Name() string                             { return f.name }
func (f *fakeProvider) Kind() provider.Kind                      { return f.kind }
func (f *fakeProvider) HealthCheck(context.Context) error        { return nil }
func (f *fakeProvider) EstimateCost(provider.CostParams) float64 { return 0 }
func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func fakeCtor(name string, kind provider.Kind) provider.Constructor {
	return func(opts provider.Options) (provider.Provider, error) {
		return &fakeProvider{name: name, kind: kind, variant: opts.Variant}, nil
	}
}

func TestCatalog_RegisterUnknownKind(t *testing.T) {
	cat := catalog.New()

	err := cat.Register("database", "pg", fakeCtor("pg", "database"), provider.Descriptor{})
	require.Error(t, err)
	assert.True(t, enserr.HasCode(err, enserr.CodeCatalogRegisterUnknownKind))
}

func TestCatalog_RegisterDuplicate(t *testing.T) {
	cat := catalog.New()

	require.NoError(t, cat.Register(provider.KindGeneration, "alpha",
		fakeCtor("alpha", provider.KindGeneration), provider.Descriptor{}))

	err := cat.Register(provider.KindGeneration, "alpha",
		fakeCtor("alpha", provider.KindGeneration), provider.Descriptor{})
	require.Error(t, err)
	assert.True(t, enserr.HasCode(err, enserr.CodeCatalogRegisterDuplicate))
}

func TestCatalog_ResolveCachesSingleton(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(provider.KindGeneration, "alpha",
		fakeCtor("alpha", provider.KindGeneration), provider.Descriptor{}))

	first, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{})
	require.NoError(t, err)
	second, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestCatalog_VariantAlwaysFresh(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(provider.KindGeneration, "alpha",
		fakeCtor("alpha", provider.KindGeneration), provider.Descriptor{}))

	cached, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{})
	require.NoError(t, err)

	v1, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{Variant: "fast"})
	require.NoError(t, err)
	v2, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{Variant: "fast"})
	require.NoError(t, err)

	assert.NotSame(t, cached, v1)
	assert.NotSame(t, v1, v2)
	assert.Equal(t, "fast", v1.(*fakeProvider).variant)

	// The cached singleton is untouched by variant construction.
	again, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{})
	require.NoError(t, err)
	assert.Same(t, cached, again)
}

func TestCatalog_ForceNewAndOverrideBypassCache(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(provider.KindStorage, "blob",
		fakeCtor("blob", provider.KindStorage), provider.Descriptor{}))

	cached, err := cat.Resolve(provider.KindStorage, "blob", catalog.ResolveOptions{})
	require.NoError(t, err)

	forced, err := cat.Resolve(provider.KindStorage, "blob", catalog.ResolveOptions{ForceNew: true})
	require.NoError(t, err)
	assert.NotSame(t, cached, forced)

	overridden, err := cat.Resolve(provider.KindStorage, "blob", catalog.ResolveOptions{
		Override: map[string]any{"endpoint": "http://localhost:9000"},
	})
	require.NoError(t, err)
	assert.NotSame(t, cached, overridden)
}

func TestCatalog_ConstructionFailureWrapsCause(t *testing.T) {
	cat := catalog.New()
	cause := errors.New("missing api key")
	require.NoError(t, cat.Register(provider.KindGeneration, "broken",
		func(provider.Options) (provider.Provider, error) { return nil, cause },
		provider.Descriptor{}))

	_, err := cat.Resolve(provider.KindGeneration, "broken", catalog.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, enserr.HasCode(err, enserr.CodeCatalogConstructFailure))
	assert.ErrorIs(t, err, cause)
}

func TestCatalog_ResolveUnregistered(t *testing.T) {
	cat := catalog.New()

	_, err := cat.Resolve(provider.KindGeneration, "ghost", catalog.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, enserr.HasCode(err, enserr.CodeCatalogLookupNotFound))

	_, err = cat.Descriptor(provider.KindGeneration, "ghost")
	require.Error(t, err)
	assert.True(t, enserr.IsNotFound(err))
}

func TestCatalog_NamesAndDescriptors(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(provider.KindTranscription, "whisk",
		fakeCtor("whisk", provider.KindTranscription), provider.Descriptor{Priority: 2}))
	require.NoError(t, cat.Register(provider.KindTranscription, "dictate",
		fakeCtor("dictate", provider.KindTranscription), provider.Descriptor{Priority: 1}))

	assert.Equal(t, []string{"dictate", "whisk"}, cat.Names(provider.KindTranscription))
	assert.Empty(t, cat.Names(provider.KindGeneration))

	desc, err := cat.Descriptor(provider.KindTranscription, "whisk")
	require.NoError(t, err)
	assert.Equal(t, "whisk", desc.Name)
	assert.Equal(t, provider.KindTranscription, desc.Kind)
	assert.Equal(t, 2, desc.Priority)

	descs := cat.Descriptors(provider.KindTranscription)
	require.Len(t, descs, 2)
	assert.Equal(t, "dictate", descs[0].Name)
}

func TestCatalog_ConcurrentResolveKeepsOneInstance(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(provider.KindGeneration, "alpha",
		fakeCtor("alpha", provider.KindGeneration), provider.Descriptor{}))

	const n = 16
	instances := make([]provider.Provider, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cat.Resolve(provider.KindGeneration, "alpha", catalog.ResolveOptions{})
			assert.NoError(t, err)
			instances[i] = p
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, instances[0], instances[i])
	}
}
