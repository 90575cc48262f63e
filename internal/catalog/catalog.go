// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

// Package catalog implements the service catalog: provider constructors and
// descriptors keyed by (kind, name), with a singleton instance cache.
package catalog

import (
	"sort"
	"sync"

	"github.com/ensemble-dev/ensemble/internal/provider"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// ResolveOptions control instance construction and caching.
type ResolveOptions struct {
	// ForceNew constructs a fresh instance and never caches it.
	ForceNew bool
	// Variant forces a fresh, uncached instance built for a specific
	// variant (e.g. one model of a generation provider).
	Variant string
	// Override forces a fresh, uncached instance built with caller
	// configuration in place of the registered defaults.
	Override map[string]any
}

func (o ResolveOptions) fresh() bool {
	return o.ForceNew || o.Variant != "" || o.Override != nil
}

type entry struct {
	ctor       provider.Constructor
	descriptor provider.Descriptor
}

type key struct {
	kind provider.Kind
	name string
}

// Catalog registers provider constructors with their static descriptors and
// resolves instances. At most one cached instance exists per (kind, name);
// resolve options that force fresh construction bypass the cache entirely.
type Catalog struct {
	mu        sync.Mutex
	entries   map[key]entry
	instances map[key]provider.Provider
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{
		entries:   make(map[key]entry),
		instances: make(map[key]provider.Provider),
	}
}

// Register adds a provider constructor and descriptor under (kind, name).
// The descriptor is immutable once registered.
func (c *Catalog) Register(kind provider.Kind, name string, ctor provider.Constructor, desc provider.Descriptor) error {
	if !kind.Valid() {
		return enserr.New(enserr.CodeCatalogRegisterUnknownKind,
			"unknown provider kind: "+string(kind),
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}
	if name == "" || ctor == nil {
		return enserr.New(enserr.CodeConfigValidateInvalidValue,
			"provider name and constructor are required",
			enserr.FieldKind(string(kind)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{kind: kind, name: name}
	if _, ok := c.entries[k]; ok {
		return enserr.New(enserr.CodeCatalogRegisterDuplicate,
			"provider already registered: "+name,
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}

	desc.Name = name
	desc.Kind = kind
	c.entries[k] = entry{ctor: ctor, descriptor: desc}
	return nil
}

// Resolve returns a provider instance for (kind, name). Without fresh
// options it returns the cached singleton, constructing and caching one on
// first use. ForceNew, Variant, or Override always construct a fresh,
// uncached instance. Construction failures wrap the underlying cause.
func (c *Catalog) Resolve(kind provider.Kind, name string, opts ResolveOptions) (provider.Provider, error) {
	k := key{kind: kind, name: name}

	c.mu.Lock()
	e, registered := c.entries[k]
	if !registered {
		c.mu.Unlock()
		return nil, enserr.New(enserr.CodeCatalogLookupNotFound,
			"provider not registered: "+name,
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}
	if !opts.fresh() {
		if inst, ok := c.instances[k]; ok {
			c.mu.Unlock()
			return inst, nil
		}
	}
	c.mu.Unlock()

	// Construction may do I/O; run it outside the lock.
	inst, err := e.ctor(provider.Options{Variant: opts.Variant, Override: opts.Override})
	if err != nil {
		return nil, enserr.Wrap(err, enserr.CodeCatalogConstructFailure,
			"constructing provider "+name,
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}

	if opts.fresh() {
		return inst, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have raced the construction; keep the first
	// cached instance and discard ours so the singleton invariant holds.
	if cached, ok := c.instances[k]; ok {
		_ = inst.Close()
		return cached, nil
	}
	c.instances[k] = inst
	return inst, nil
}

// Get resolves the cached singleton for (kind, name). It is shorthand for
// Resolve with zero options.
func (c *Catalog) Get(kind provider.Kind, name string) (provider.Provider, error) {
	return c.Resolve(kind, name, ResolveOptions{})
}

// Names returns the registered provider names for a kind, sorted.
func (c *Catalog) Names(kind provider.Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for k := range c.entries {
		if k.kind == kind {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Descriptor returns the registered descriptor for (kind, name).
func (c *Catalog) Descriptor(kind provider.Kind, name string) (provider.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key{kind: kind, name: name}]
	if !ok {
		return provider.Descriptor{}, enserr.New(enserr.CodeCatalogLookupNotFound,
			"provider not registered: "+name,
			enserr.FieldKind(string(kind)), enserr.FieldProvider(name))
	}
	return e.descriptor, nil
}

// Descriptors returns every registered descriptor for a kind, sorted by name.
func (c *Catalog) Descriptors(kind provider.Kind) []provider.Descriptor {
	names := c.Names(kind)

	c.mu.Lock()
	defer c.mu.Unlock()

	descs := make([]provider.Descriptor, 0, len(names))
	for _, name := range names {
		descs = append(descs, c.entries[key{kind: kind, name: name}].descriptor)
	}
	return descs
}

// Close shuts down every cached instance and clears the cache.
func (c *Catalog) Close() error {
	c.mu.Lock()
	instances := make([]provider.Provider, 0, len(c.instances))
	for _, inst := range c.instances {
		instances = append(instances, inst)
	}
	c.instances = make(map[key]provider.Provider)
	c.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return enserr.Join(errs...)
	}
	return nil
}
