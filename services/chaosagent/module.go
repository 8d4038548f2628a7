// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chaosagent is the fault-injection agent module.
//
// # Description
//
// A Module binds an interception host to the agent's control plane. Commands
// (create, destroy, status, list) arrive over HTTP, create enhancers from the
// enhancer registry, record them in the experiment registry and ask the
// watch manager to install interception on the host. When the host raises a
// method-entry event, the experiment's listener runs the enhancer and tells
// the host whether to proceed, return a forged value or fail.
//
//	HTTP ──► Handlers ──► Module.Dispatch ──► create/destroy/status/list
//	                                              │
//	                     enhancer.Registry ◄──────┤
//	                     experiment.Registry ◄────┤
//	                     watch.Manager ◄──────────┘──► host.Watch(pointcut, listener)
//
// # Lifecycle
//
//	new ──Load──► loaded ──Activate──► active ◄──Activate── frozen
//	                                     │                    ▲
//	                                     └──────Freeze────────┘
//	any loaded phase ──Unload──► unloaded ──Load──► loaded
//
// Handlers and enhancer kinds are registered on the first Activate after a
// Load. While frozen, listeners let every call proceed untouched.
//
// # Thread Safety
//
// Module is safe for concurrent use.
package chaosagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/experiment"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/listener"
	"github.com/AleutianAI/chaosagent/services/chaosagent/observability"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
	"github.com/AleutianAI/chaosagent/services/chaosagent/watch"
)

// Version is the agent version reported by the status command.
var Version = "1.8.0"

// DefaultModuleID is the module id used in command URLs.
const DefaultModuleID = "chaosblade"

// Phase is the module lifecycle phase.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseLoaded
	PhaseActive
	PhaseFrozen
	PhaseUnloaded
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseLoaded:
		return "loaded"
	case PhaseActive:
		return "active"
	case PhaseFrozen:
		return "frozen"
	case PhaseUnloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the Prometheus metrics. The default uses a private
// registry.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Module) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithInstruments sets the OTel latency histograms.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(m *Module) {
		m.instruments = in
	}
}

// WithWorkers bounds concurrent watch installs.
func WithWorkers(n int) Option {
	return func(m *Module) {
		m.workers = n
	}
}

// WithCatalogue sets the failure type catalogue used by throws enhancers.
func WithCatalogue(c *enhancer.Catalogue) Option {
	return func(m *Module) {
		if c != nil {
			m.catalogue = c
		}
	}
}

// WithModuleID sets the id used in command URLs.
func WithModuleID(id string) Option {
	return func(m *Module) {
		if id != "" {
			m.id = id
		}
	}
}

// CommandHandler runs one command. The returned value becomes the envelope
// result; errors are mapped to failure codes by Dispatch.
type CommandHandler func(ctx context.Context, params map[string]string) (any, error)

// Module is the agent: lifecycle, registries and command dispatch.
type Module struct {
	id          string
	workers     int
	catalogue   *enhancer.Catalogue
	metrics     *observability.Metrics
	instruments *telemetry.Instruments
	logger      *slog.Logger

	enhancers   *enhancer.Registry
	experiments *experiment.Registry
	frozen      atomic.Bool

	mu        sync.RWMutex
	phase     Phase
	host      host.Host
	watches   *watch.Manager
	handlers  map[string]CommandHandler
	activated bool
}

// New creates a Module in PhaseNew.
func New(opts ...Option) *Module {
	m := &Module{
		id:        DefaultModuleID,
		workers:   watch.DefaultWorkers,
		catalogue: enhancer.DefaultCatalogue(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observability.New(nil)
	}
	m.logger = m.logger.With("component", "chaosagent", "module_id", m.id)
	m.enhancers = enhancer.NewRegistry(m.logger)
	m.experiments = experiment.NewRegistry()
	return m
}

// ID returns the module id.
func (m *Module) ID() string { return m.id }

// Phase returns the current lifecycle phase.
func (m *Module) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Metrics returns the module's Prometheus metrics.
func (m *Module) Metrics() *observability.Metrics { return m.metrics }

// Experiments returns the experiment registry.
func (m *Module) Experiments() *experiment.Registry { return m.experiments }

// Enhancers returns the enhancer registry.
func (m *Module) Enhancers() *enhancer.Registry { return m.enhancers }

// Watches returns the watch manager, nil outside the loaded phases.
func (m *Module) Watches() *watch.Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watches
}

// Frozen reports whether interception is currently inert.
func (m *Module) Frozen() bool { return m.frozen.Load() }

// Load binds the interception host.
//
// Inputs:
//
//	h - The host that installs interception. Must not be nil.
//
// Outputs:
//
//	error - ErrNilHost, or ErrInvalidPhase unless the module is new or unloaded.
func (m *Module) Load(_ context.Context, h host.Host) error {
	if h == nil {
		return ErrNilHost
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseNew && m.phase != PhaseUnloaded {
		return fmt.Errorf("%w: load in phase %s", ErrInvalidPhase, m.phase)
	}

	m.host = h
	m.watches = watch.New(h,
		watch.WithWorkers(m.workers),
		watch.WithLogger(m.logger),
		watch.WithRecorder(m.metrics),
		watch.WithInstruments(m.instruments),
		watch.WithListenerOptions(
			listener.WithLogger(m.logger),
			listener.WithFailureRecorder(m.metrics),
			listener.WithFrozen(m.frozen.Load),
		),
	)
	m.phase = PhaseLoaded
	m.logger.Info("module loaded")
	return nil
}

// Activate registers the command handlers and the built-in enhancer kinds
// on first use, then resumes interception.
func (m *Module) Activate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseLoaded && m.phase != PhaseFrozen {
		return fmt.Errorf("%w: activate in phase %s", ErrInvalidPhase, m.phase)
	}

	if !m.activated {
		if err := enhancer.RegisterBuiltins(m.enhancers); err != nil {
			return fmt.Errorf("register enhancers: %w", err)
		}
		m.handlers = map[string]CommandHandler{
			CommandCreate:  m.create,
			CommandDestroy: m.destroy,
			CommandStatus:  m.status,
			CommandList:    m.list,
		}
		m.activated = true
		m.logger.Info("module activated",
			"handlers", slices.Sorted(maps.Keys(m.handlers)),
			"enhancers", m.enhancers.Names(),
		)
	} else {
		m.logger.Info("module resumed")
	}

	m.frozen.Store(false)
	m.phase = PhaseActive
	return nil
}

// Freeze makes every listener inert. Commands keep working.
func (m *Module) Freeze(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseActive {
		return fmt.Errorf("%w: freeze in phase %s", ErrInvalidPhase, m.phase)
	}
	m.frozen.Store(true)
	m.phase = PhaseFrozen
	m.logger.Info("module frozen")
	return nil
}

// Unload drains pending installs, deletes every watch, clears the
// registries and drops the host.
//
// Description:
//
//	ctx bounds the wait for in-flight installs. Cleanup continues after a
//	timeout; the joined error reports what went wrong.
func (m *Module) Unload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseLoaded, PhaseActive, PhaseFrozen:
	default:
		return fmt.Errorf("%w: unload in phase %s", ErrInvalidPhase, m.phase)
	}

	var errs []error
	if err := m.watches.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain watch pool: %w", err))
	}
	if err := m.watches.Clear(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("clear watches: %w", err))
	}
	removed := m.experiments.Clear()
	m.metrics.SetActiveExperiments(0)

	m.enhancers.Clear()
	m.handlers = nil
	m.activated = false
	m.watches = nil
	m.host = nil
	m.frozen.Store(false)
	m.phase = PhaseUnloaded

	m.logger.Info("module unloaded", "experiments_removed", len(removed))
	return errors.Join(errs...)
}

// handlerNames returns the registered command names, sorted.
func (m *Module) handlerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.handlers))
}

// statusName is the module state reported by the status command.
func (p Phase) statusName() string {
	switch p {
	case PhaseActive:
		return "running"
	default:
		return p.String()
	}
}
