// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hosttest provides a scriptable interception host for tests.
package hosttest

import (
	"context"
	"sync"

	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host/inproc"
)

// Fake is an in-process host with failure injection and call recording.
//
// FailWatch and FailResolve make the next calls fail. Block and Stall make
// Watch wait until released.
type Fake struct {
	inner *inproc.Host

	mu         sync.Mutex
	watchErr   error
	resolveErr error
	gate       chan struct{}
	deaf       bool
	watchCalls int
	deleted    []host.Handle
}

var _ host.Host = (*Fake)(nil)

// New creates a Fake.
func New() *Fake {
	return &Fake{inner: inproc.New()}
}

// FailWatch makes every following Watch return err. nil restores success.
func (f *Fake) FailWatch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchErr = err
}

// FailResolve makes every following ResolveMethod return err.
func (f *Fake) FailResolve(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveErr = err
}

// Block makes Watch wait until the returned release function is called.
func (f *Fake) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
				f.deaf = false
			}
			f.mu.Unlock()
		})
	}
}

// Stall is Block for a misbehaving host: Watch ignores ctx and installs
// only once the returned release function is called.
func (f *Fake) Stall() (release func()) {
	release = f.Block()
	f.mu.Lock()
	f.deaf = true
	f.mu.Unlock()
	return release
}

// Watch implements host.Host.
func (f *Fake) Watch(ctx context.Context, filter host.Filter, l host.Listener, events ...host.EventType) (host.Handle, error) {
	f.mu.Lock()
	f.watchCalls++
	gate := f.gate
	deaf := f.deaf
	err := f.watchErr
	f.mu.Unlock()

	switch {
	case gate == nil:
	case deaf:
		<-gate
		ctx = context.WithoutCancel(ctx)
	default:
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return f.inner.Watch(ctx, filter, l, events...)
}

// Delete implements host.Host.
func (f *Fake) Delete(ctx context.Context, h host.Handle) error {
	if err := f.inner.Delete(ctx, h); err != nil {
		return err
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, h)
	f.mu.Unlock()
	return nil
}

// ResolveMethod implements host.Host.
func (f *Fake) ResolveMethod(ev *host.Event) (*host.Method, error) {
	f.mu.Lock()
	err := f.resolveErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.ResolveMethod(ev)
}

// Fire raises a synthetic method-entry event.
func (f *Fake) Fire(ctx context.Context, class, method string, target any, args ...any) host.Directive {
	return f.inner.Fire(ctx, host.EventBefore, inproc.Site{
		Class:  class,
		Method: method,
		Target: target,
		Args:   args,
	})
}

// Invoke raises an entry event and runs original when nothing intercepts.
func (f *Fake) Invoke(ctx context.Context, site inproc.Site, original func(context.Context) (any, error)) (any, error) {
	return f.inner.Invoke(ctx, site, original)
}

// Handles returns the installed handles.
func (f *Fake) Handles() []host.Handle {
	return f.inner.Handles()
}

// Deleted returns the handles removed through Delete, in call order.
func (f *Fake) Deleted() []host.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Handle, len(f.deleted))
	copy(out, f.deleted)
	return out
}

// WatchCalls returns how many times Watch was called.
func (f *Fake) WatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCalls
}
