// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package localfs implements the storage provider family over a local
// directory. It is the one concrete provider shipped in-tree: it speaks no
// network protocol, which keeps it inside this layer's scope, and it gives
// the serve command a registrable, probe-able provider out of the box.
package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ensemble-dev/ensemble/internal/fault"
	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// Config holds the provider's construction-time settings.
type Config struct {
	Name string
	// Root is the directory objects are stored under.
	Root string
	// CostPerRequest and CostPerMillionBytes drive cost estimation.
	CostPerRequest      float64
	CostPerMillionBytes float64
	// Retry and Breaker compose fault isolation around the store's writes
	// and health checks. A zero Retry means a single attempt; a nil
	// Breaker disables circuit accounting.
	Retry   fault.Policy
	Breaker *fault.Breaker
}

// Store is a filesystem-backed object-storage provider.
type Store struct {
	name    string
	root    string
	cfg     Config
	retry   fault.Policy
	breaker *fault.Breaker
}

var _ provider.Provider = (*Store)(nil)

// New constructs a Store. A variant selects a sub-namespace under the
// root; an override may replace the root directory entirely.
func New(cfg Config) provider.Constructor {
	return func(opts provider.Options) (provider.Provider, error) {
		root := cfg.Root
		if opts.Override != nil {
			if r, ok := opts.Override["root"].(string); ok && r != "" {
				root = r
			}
		}
		if root == "" {
			return nil, enserr.New(enserr.CodeProviderConfigInvalid,
				"localfs root directory is required",
				enserr.FieldProvider(cfg.Name))
		}
		if opts.Variant != "" {
			root = filepath.Join(root, opts.Variant)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, enserr.Wrap(err, enserr.CodeProviderConfigInvalid,
				"creating localfs root", enserr.FieldProvider(cfg.Name))
		}

		retry := cfg.Retry
		if retry.MaxAttempts == 0 {
			retry = fault.Policy{MaxAttempts: 1, ExponentialBase: 2.0}
		}
		if retry.Retryable == nil {
			retry.Retryable = enserr.IsUpstreamFailure
		}
		return &Store{name: cfg.Name, root: root, cfg: cfg, retry: retry, breaker: cfg.Breaker}, nil
	}
}

func (s *Store) Name() string        { return s.name }
func (s *Store) Kind() provider.Kind { return provider.KindStorage }

// guarded runs op through the store's circuit breaker inside its retry
// policy, so every attempt counts toward circuit accounting and an open
// circuit fails fast without touching the filesystem. Read lookups stay
// unguarded: a missing object is the caller's error, not a store fault.
func (s *Store) guarded(ctx context.Context, op func(ctx context.Context) error) error {
	run := op
	if s.breaker != nil {
		run = func(ctx context.Context) error { return s.breaker.Do(ctx, op) }
	}
	return s.retry.Do(ctx, run)
}

// HealthCheck writes and removes a sentinel file under the root.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.guarded(ctx, func(context.Context) error {
		sentinel := filepath.Join(s.root, ".ensemble-health")
		if err := os.WriteFile(sentinel, []byte("ok"), 0o644); err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"writing health sentinel", enserr.FieldProvider(s.name))
		}
		if err := os.Remove(sentinel); err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"removing health sentinel", enserr.FieldProvider(s.name))
		}
		return nil
	})
}

// EstimateCost prices a storage request: a per-request charge plus a
// volume charge per million bytes.
func (s *Store) EstimateCost(params provider.CostParams) float64 {
	requests := params.Requests
	if requests == 0 && params.StorageBytes > 0 {
		requests = 1
	}
	return float64(requests)*s.cfg.CostPerRequest +
		float64(params.StorageBytes)/1e6*s.cfg.CostPerMillionBytes
}

func (s *Store) Close() error { return nil }

// Put stores an object under key.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}

	// Buffered once so a retried attempt rewrites the full payload; the
	// reader cannot be rewound between attempts.
	data, err := io.ReadAll(r)
	if err != nil {
		return enserr.Wrap(err, enserr.CodeProviderRequestInvalid,
			"reading object payload", enserr.FieldProvider(s.name))
	}

	return s.guarded(ctx, func(context.Context) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"creating object directory", enserr.FieldProvider(s.name))
		}

		f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
		if err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"creating object", enserr.FieldProvider(s.name))
		}
		defer os.Remove(f.Name())

		if _, err := f.Write(data); err != nil {
			f.Close()
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"writing object", enserr.FieldProvider(s.name))
		}
		if err := f.Close(); err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"closing object", enserr.FieldProvider(s.name))
		}
		if err := os.Rename(f.Name(), path); err != nil {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"committing object", enserr.FieldProvider(s.name))
		}
		return nil
	})
}

// Get opens the object stored under key. The caller closes the reader.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, enserr.New(enserr.CodeCatalogLookupNotFound,
			"object not found: "+key, enserr.FieldProvider(s.name))
	}
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
			"opening object", enserr.FieldProvider(s.name))
	}
	return f, nil
}

// Delete removes the object stored under key, if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	return s.guarded(ctx, func(context.Context) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
				"deleting object", enserr.FieldProvider(s.name))
		}
		return nil
	})
}

// Stat returns the stored size of the object under key.
func (s *Store) Stat(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, enserr.New(enserr.CodeCatalogLookupNotFound,
			"object not found: "+key, enserr.FieldProvider(s.name))
	}
	if err != nil {
		return 0, enserr.Wrap(err, enserr.CodeProviderUpstreamFailure,
			"statting object", enserr.FieldProvider(s.name))
	}
	return info.Size(), nil
}

// objectPath maps a key onto the root, rejecting traversal outside it.
func (s *Store) objectPath(key string) (string, error) {
	if key == "" {
		return "", enserr.New(enserr.CodeProviderRequestInvalid,
			"object key is required", enserr.FieldProvider(s.name))
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", enserr.New(enserr.CodeProviderRequestInvalid,
			"object key escapes the storage root: "+key,
			enserr.FieldProvider(s.name))
	}
	return path, nil
}
