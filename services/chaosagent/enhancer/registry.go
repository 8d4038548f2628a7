// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enhancer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry maps kind names to factories.
//
// Description:
//
//	Registering a name that already exists replaces the previous factory;
//	the replacement is logged at info. A module populates its registry once
//	at activation and only reads it afterwards.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "enhancer_registry"),
	}
}

// Register binds name to f, replacing any previous factory.
func (r *Registry) Register(name string, f Factory) error {
	if f == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		r.logger.Info("enhancer kind re-registered, previous factory replaced", "kind", name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory for name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// Create builds an enhancer of kind cfg.Kind.
func (r *Registry) Create(cfg Config) (Enhancer, error) {
	f, ok := r.Get(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
	return f(cfg)
}

// Names returns the registered kinds in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Clear removes every factory.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.factories)
}

// Kind names of the built-in enhancers.
const (
	KindDelay        = "delay"
	KindThrows       = "throws"
	KindMock         = "mock"
	KindOkHttp3      = "okhttp3"
	KindRestTemplate = "resttemplate"
	KindHTTPServer   = "httpserver"
	KindRPCConsumer  = "dubbo-consumer"
	KindRPCProvider  = "dubbo-provider"
	KindDynamic      = "dynamic"
)

// Builtins returns the nine built-in kinds and their factories.
func Builtins() map[string]Factory {
	return map[string]Factory{
		KindDelay:        NewDelay,
		KindThrows:       NewThrows,
		KindMock:         NewMock,
		KindOkHttp3:      NewOkHttp3,
		KindRestTemplate: NewRestTemplate,
		KindHTTPServer:   NewHTTPServer,
		KindRPCConsumer:  NewRPCConsumer,
		KindRPCProvider:  NewRPCProvider,
		KindDynamic:      NewDynamic,
	}
}

// RegisterBuiltins registers every built-in kind into r.
func RegisterBuiltins(r *Registry) error {
	builtins := Builtins()
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(name, builtins[name]); err != nil {
			return err
		}
	}
	return nil
}
