// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch owns the mapping from experiment id to host watch handle.
//
// # Description
//
// Installing interception can take seconds while the host rescans loaded
// classes, so Watch only queues the install and returns. Installs run on
// goroutines bounded by a weighted semaphore:
//
//	Watch(e) ──► entry{pending} ──► [semaphore slot] ──► host.Watch ──► entry{installed}
//	                                                          │
//	                                                          └── error ──► entry{failed}
//
// Delete removes the entry and drops the host handle. When Delete races an
// install that is still in flight, the entry is marked cancelled and the
// install goroutine releases the handle as soon as the host returns it.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/listener"
	"github.com/AleutianAI/chaosagent/services/chaosagent/observability"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
)

// DefaultWorkers is the number of concurrent installs when none is set.
const DefaultWorkers = 4

var (
	// ErrPoolClosed is returned once Close has been called.
	ErrPoolClosed = errors.New("watch pool closed")

	// ErrNotWatched is returned for an experiment id with no watch entry.
	ErrNotWatched = errors.New("experiment not watched")

	// ErrAlreadyWatched is returned when an id is watched twice.
	ErrAlreadyWatched = errors.New("experiment already watched")

	// ErrNilEnhancer is returned by Watch for a nil enhancer.
	ErrNilEnhancer = errors.New("enhancer must not be nil")
)

// State is the install state of one watch entry.
type State int

const (
	StatePending State = iota
	StateInstalled
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a point-in-time view of one watch entry.
type Status struct {
	ID     string
	State  State
	Handle host.Handle

	// Err is the install error for StateFailed.
	Err error
}

// InstallRecorder counts install outcomes.
type InstallRecorder interface {
	InstallQueued()
	InstallDone(status string)
}

type nopRecorder struct{}

func (nopRecorder) InstallQueued()     {}
func (nopRecorder) InstallDone(string) {}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers bounds the number of concurrent installs. n < 1 is ignored.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder sets the install outcome recorder.
func WithRecorder(r InstallRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithInstruments sets the OTel install latency histogram.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(m *Manager) {
		m.instruments = in
	}
}

// WithListenerOptions passes options to every listener the manager builds.
func WithListenerOptions(opts ...listener.Option) Option {
	return func(m *Manager) {
		m.listenerOpts = append(m.listenerOpts, opts...)
	}
}

type entry struct {
	id     string
	state  State
	handle host.Handle
	err    error
	done   chan struct{}
}

func (e *entry) status() Status {
	return Status{ID: e.id, State: e.state, Handle: e.handle, Err: e.err}
}

// Manager installs and removes host watches for experiments.
type Manager struct {
	host         host.Host
	workers      int
	sem          *semaphore.Weighted
	recorder     InstallRecorder
	instruments  *telemetry.Instruments
	listenerOpts []listener.Option
	logger       *slog.Logger

	// ctx bounds every install; it is cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates a Manager that installs watches on h.
func New(h host.Host, opts ...Option) *Manager {
	m := &Manager{
		host:     h,
		workers:  DefaultWorkers,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sem = semaphore.NewWeighted(int64(m.workers))
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.logger = m.logger.With("component", "watch_manager")
	return m
}

// Watch queues the install of e's interception and returns immediately.
//
// Description:
//
//	The install builds a listener for e and calls host.Watch with e's
//	pointcut (host.NoneFilter when it has none) for method-entry events.
//	Install failures are logged and counted; they are not returned here.
//
// Outputs:
//
//	error - ErrNilEnhancer, ErrAlreadyWatched, or ErrPoolClosed.
func (m *Manager) Watch(e enhancer.Enhancer) error {
	if e == nil {
		return ErrNilEnhancer
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrPoolClosed
	}
	if _, ok := m.entries[e.ID()]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyWatched, e.ID())
	}
	ent := &entry{id: e.ID(), state: StatePending, done: make(chan struct{})}
	m.entries[ent.id] = ent
	m.wg.Add(1)
	m.mu.Unlock()

	m.recorder.InstallQueued()
	m.logger.Info("watch queued", "experiment_id", ent.id, "pointcut", e.Pointcut().String())

	go m.install(e, ent)
	return nil
}

func (m *Manager) install(e enhancer.Enhancer, ent *entry) {
	defer m.wg.Done()
	defer close(ent.done)

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.mu.Lock()
		ent.state = StateCancelled
		m.mu.Unlock()
		m.recorder.InstallDone(observability.InstallCancelled)
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	cancelled := ent.state == StateCancelled
	m.mu.Unlock()
	if cancelled {
		m.recorder.InstallDone(observability.InstallCancelled)
		return
	}

	ctx, span := telemetry.StartSpan(m.ctx, "chaosagent.watch.install",
		trace.WithAttributes(
			attribute.String("experiment_id", ent.id),
			attribute.String("enhancer", e.Kind()),
		),
	)
	defer span.End()

	start := time.Now()
	l := listener.New(e, m.host, m.listenerOpts...)
	handle, err := m.host.Watch(ctx, filterFor(e), l, host.EventBefore)
	elapsed := time.Since(start)

	var status string
	release := false

	m.mu.Lock()
	switch {
	case err != nil && ent.state == StateCancelled:
		status = observability.InstallCancelled
	case err != nil:
		ent.state = StateFailed
		ent.err = err
		status = observability.InstallError
	case ent.state == StateCancelled:
		ent.handle = handle
		release = true
		status = observability.InstallCancelled
	case m.ctx.Err() != nil:
		ent.state = StateCancelled
		ent.handle = handle
		release = true
		status = observability.InstallCancelled
	default:
		ent.state = StateInstalled
		ent.handle = handle
		status = observability.InstallSuccess
	}
	m.mu.Unlock()

	m.recorder.InstallDone(status)
	m.instruments.ObserveInstall(ctx, status, elapsed)

	switch status {
	case observability.InstallError:
		telemetry.RecordError(span, err)
		m.logger.Error("watch install failed",
			"experiment_id", ent.id,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	case observability.InstallCancelled:
		if release {
			if derr := m.host.Delete(context.Background(), handle); derr != nil {
				m.logger.Warn("releasing cancelled watch failed",
					"experiment_id", ent.id,
					"handle", int(handle),
					"error", derr,
				)
			}
		}
		m.logger.Info("watch install cancelled", "experiment_id", ent.id)
	default:
		telemetry.SetSpanOK(span)
		m.logger.Info("watch installed",
			"experiment_id", ent.id,
			"handle", int(handle),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}

// filterFor returns the host filter for e. A nil pointcut matches nothing.
func filterFor(e enhancer.Enhancer) host.Filter {
	if pc := e.Pointcut(); pc != nil {
		return pc
	}
	return host.NoneFilter{}
}

// Delete removes the watch for id and drops its host handle.
//
// A pending install is marked cancelled and releases its handle when it
// completes. Deleting an id that is not watched returns ErrNotWatched.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	ent, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWatched, id)
	}
	delete(m.entries, id)
	state, handle := ent.state, ent.handle
	if state == StatePending {
		ent.state = StateCancelled
	}
	m.mu.Unlock()

	if state != StateInstalled {
		m.logger.Debug("watch removed before install", "experiment_id", id, "state", state.String())
		return nil
	}
	if err := m.host.Delete(ctx, handle); err != nil {
		return fmt.Errorf("delete handle %d: %w", handle, err)
	}
	m.logger.Info("watch deleted", "experiment_id", id, "handle", int(handle))
	return nil
}

// Get returns the status of the watch for id.
func (m *Manager) Get(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entries[id]
	if !ok {
		return Status{}, false
	}
	return ent.status(), true
}

// Wait blocks until the install for id has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Status, error) {
	m.mu.Lock()
	ent, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotWatched, id)
	}

	select {
	case <-ent.done:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return ent.status(), nil
}

// Handles returns the installed handles keyed by experiment id.
func (m *Manager) Handles() map[string]host.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]host.Handle, len(m.entries))
	for id, ent := range m.entries {
		if ent.state == StateInstalled {
			out[id] = ent.handle
		}
	}
	return out
}

// Len returns the number of watch entries in any state.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear deletes every watch. Errors from the host are joined.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	ids := slices.Collect(maps.Keys(m.entries))
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotWatched) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting watches and waits for queued installs to finish.
//
// When ctx expires first, in-flight installs are cancelled and ctx.Err()
// is returned without waiting for them. An install that still succeeds
// after that point has its handle deleted from the host.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}
