// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inproc implements an interception host for Go programs.
//
// Go has no load-time bytecode rewriting, so applications declare their
// interception points explicitly by routing calls through Invoke:
//
//	h := inproc.New()
//	total, err := inproc.Call(ctx, h, inproc.Site{
//	    Class:  "svc.Order",
//	    Method: "submit",
//	    Target: order,
//	    Args:   []any{req},
//	}, func(ctx context.Context) (int, error) {
//	    return order.Submit(ctx, req)
//	})
//
// Every watch whose filter accepts the site's class and method receives an
// EventBefore. The first listener that answers with ReturnImmediately or
// ThrowImmediately short-circuits the call; otherwise the original function
// runs.
//
// Thread Safety: Host is safe for concurrent use.
package inproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
)

// ErrReturnType is returned by Call when a forged return value cannot be
// converted to the call site's result type.
var ErrReturnType = errors.New("forged return value has the wrong type")

// Site describes one interception point.
type Site struct {
	// Class is the logical class name, e.g. "svc.Order".
	Class string

	// Method is the method name, e.g. "submit".
	Method string

	// Desc is an optional signature string.
	Desc string

	// Target is the receiver, nil for package-level functions.
	Target any

	Args []any

	// Loader is an optional module handle reported to listeners.
	Loader any
}

type registration struct {
	handle   host.Handle
	filter   host.Filter
	listener host.Listener
	events   []host.EventType
}

func (r *registration) wants(t host.EventType) bool {
	return slices.Contains(r.events, t)
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithScanDelay makes Watch wait d before installing, approximating the time
// a real host spends rescanning loaded classes.
func WithScanDelay(d time.Duration) Option {
	return func(h *Host) {
		h.scanDelay = d
	}
}

// Host is an in-process interception host.
type Host struct {
	mu        sync.RWMutex
	next      host.Handle
	watches   map[host.Handle]*registration
	closed    bool
	scanDelay time.Duration
	logger    *slog.Logger
}

// New creates an empty Host.
func New(opts ...Option) *Host {
	h := &Host{
		watches: make(map[host.Handle]*registration),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "inproc_host")
	return h
}

// Watch installs l for every site accepted by filter.
//
// When no event types are given, EventBefore is assumed.
func (h *Host) Watch(ctx context.Context, filter host.Filter, l host.Listener, events ...host.EventType) (host.Handle, error) {
	if l == nil {
		return 0, host.ErrNilListener
	}
	if filter == nil {
		filter = host.NoneFilter{}
	}
	if len(events) == 0 {
		events = []host.EventType{host.EventBefore}
	}

	if h.scanDelay > 0 {
		timer := time.NewTimer(h.scanDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, host.ErrHostClosed
	}

	h.next++
	reg := &registration{
		handle:   h.next,
		filter:   filter,
		listener: l,
		events:   slices.Clone(events),
	}
	h.watches[reg.handle] = reg

	h.logger.Debug("watch installed", "handle", int(reg.handle))
	return reg.handle, nil
}

// Delete removes an installed watch.
func (h *Host) Delete(_ context.Context, handle host.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.watches[handle]; !ok {
		return fmt.Errorf("%w: %d", host.ErrUnknownHandle, handle)
	}
	delete(h.watches, handle)

	h.logger.Debug("watch deleted", "handle", int(handle))
	return nil
}

// ResolveMethod resolves the event's method. Events without a method name
// cannot be resolved.
func (h *Host) ResolveMethod(ev *host.Event) (*host.Method, error) {
	if ev == nil || ev.MethodName == "" {
		return nil, host.ErrMethodNotFound
	}
	return &host.Method{
		ClassName:  ev.ClassName,
		Name:       ev.MethodName,
		Descriptor: ev.MethodDesc,
		Static:     ev.Target == nil,
	}, nil
}

// Handles returns the installed handles in ascending order.
func (h *Host) Handles() []host.Handle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]host.Handle, 0, len(h.watches))
	for handle := range h.watches {
		out = append(out, handle)
	}
	slices.Sort(out)
	return out
}

// Close removes every watch and rejects further installs.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	clear(h.watches)
}

// matching returns the registrations that accept the site for event t,
// ordered by handle.
func (h *Host) matching(site Site, t host.EventType) []*registration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*registration
	for _, reg := range h.watches {
		if !reg.wants(t) {
			continue
		}
		if reg.filter.MatchClass(site.Class) && reg.filter.MatchMethod(site.Method) {
			out = append(out, reg)
		}
	}
	slices.SortFunc(out, func(a, b *registration) int { return int(a.handle - b.handle) })
	return out
}

// Fire raises one event for site and returns the first directive that is not
// Proceed.
func (h *Host) Fire(ctx context.Context, t host.EventType, site Site) host.Directive {
	ev := &host.Event{
		Type:       t,
		Target:     site.Target,
		ClassName:  site.Class,
		MethodName: site.Method,
		MethodDesc: site.Desc,
		Args:       site.Args,
		Loader:     site.Loader,
	}
	for _, reg := range h.matching(site, t) {
		d := reg.listener.OnEvent(ctx, ev)
		if d.Action != host.ActionProceed {
			return d
		}
	}
	return host.Proceed()
}

// Invoke runs original unless a listener substitutes the result.
func (h *Host) Invoke(ctx context.Context, site Site, original func(context.Context) (any, error)) (any, error) {
	d := h.Fire(ctx, host.EventBefore, site)
	switch d.Action {
	case host.ActionReturn:
		return d.Value, nil
	case host.ActionThrow:
		return nil, d.Err
	}
	return original(ctx)
}

// Call is the typed form of Invoke. A forged nil becomes the zero value of T.
func Call[T any](ctx context.Context, h *Host, site Site, original func(context.Context) (T, error)) (T, error) {
	var zero T

	d := h.Fire(ctx, host.EventBefore, site)
	switch d.Action {
	case host.ActionReturn:
		if d.Value == nil {
			return zero, nil
		}
		v, ok := d.Value.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s.%s wants %T, got %T", ErrReturnType, site.Class, site.Method, zero, d.Value)
		}
		return v, nil
	case host.ActionThrow:
		return zero, d.Err
	}
	return original(ctx)
}
