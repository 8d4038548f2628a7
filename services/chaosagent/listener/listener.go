// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package listener binds one enhancer to the host's method-entry events.
//
// # Description
//
// For every event the host delivers, the listener:
//
//  1. proceeds when the module is frozen or the enhancer's limit is reached
//  2. resolves the event's method through the host (failure is logged, then
//     proceeds)
//  3. builds an enhancer.Invocation
//  4. proceeds when the enhancer's filter rejects the invocation
//  5. runs Enhance and converts the Outcome into a host.Directive
//
// Enhancer errors and panics never reach the host method: they are
// recovered, counted, logged and turned into Proceed.
//
// # Thread Safety
//
// OnEvent runs on the intercepted caller's goroutine and is safe for
// concurrent use.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/observability"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
)

// FailureRecorder counts swallowed enhancer failures.
type FailureRecorder interface {
	ListenerFailure(kind, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ListenerFailure(string, string) {}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(li *Listener) {
		if l != nil {
			li.logger = l
		}
	}
}

// WithFailureRecorder sets the recorder for swallowed failures.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(li *Listener) {
		if r != nil {
			li.failures = r
		}
	}
}

// WithFrozen sets the predicate that makes the listener inert.
func WithFrozen(frozen func() bool) Option {
	return func(li *Listener) {
		if frozen != nil {
			li.frozen = frozen
		}
	}
}

// Listener implements host.Listener for one enhancer.
type Listener struct {
	enhancer enhancer.Enhancer
	host     host.Host
	frozen   func() bool
	failures FailureRecorder
	logger   *slog.Logger

	// Failure logs are throttled: the first few are always written, then at
	// most one per interval.
	failureLog rate.Sometimes
}

var _ host.Listener = (*Listener)(nil)

// New creates a Listener for e. h resolves event methods.
func New(e enhancer.Enhancer, h host.Host, opts ...Option) *Listener {
	l := &Listener{
		enhancer:   e,
		host:       h,
		frozen:     func() bool { return false },
		failures:   nopRecorder{},
		logger:     slog.Default(),
		failureLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(
		"component", "listener",
		"experiment_id", e.ID(),
		"enhancer", e.Kind(),
	)
	return l
}

// Enhancer returns the bound enhancer.
func (l *Listener) Enhancer() enhancer.Enhancer { return l.enhancer }

// OnEvent implements host.Listener.
func (l *Listener) OnEvent(ctx context.Context, ev *host.Event) (d host.Directive) {
	if ev == nil || l.frozen() || l.enhancer.LimitReached() {
		return host.Proceed()
	}

	m, err := l.host.ResolveMethod(ev)
	if err != nil {
		l.logger.Warn("method resolution failed",
			"class", ev.ClassName,
			"method", ev.MethodName,
			"error", err,
		)
		return host.Proceed()
	}

	inv := enhancer.NewInvocation(ev, m)
	if !l.enhancer.Filter(inv) {
		return host.Proceed()
	}

	ctx, span := telemetry.StartSpan(ctx, "chaosagent.enhance",
		trace.WithAttributes(
			attribute.String("experiment_id", l.enhancer.ID()),
			attribute.String("enhancer", l.enhancer.Kind()),
			attribute.String("class", ev.ClassName),
			attribute.String("method", ev.MethodName),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("enhancer panic: %v", r)
			telemetry.RecordError(span, err)
			l.swallow(observability.ReasonPanic, err, ev)
			d = host.Proceed()
		}
	}()

	out, err := l.enhancer.Enhance(ctx, inv)
	if err != nil {
		telemetry.RecordError(span, err)
		l.swallow(observability.ReasonError, err, ev)
		return host.Proceed()
	}

	d = directive(out, inv)
	span.SetAttributes(attribute.String("directive", d.Action.String()))
	return d
}

// directive maps an Outcome to the host's control signal. A filled mock
// slot forces a return even when the outcome says continue.
func directive(out enhancer.Outcome, inv *enhancer.Invocation) host.Directive {
	switch out.Kind {
	case enhancer.OutcomeThrow:
		f := out.Failure
		if f == nil {
			f = &enhancer.Failure{Type: enhancer.GenericFailureType}
		}
		return host.ThrowImmediately(f)
	case enhancer.OutcomeReturn:
		return host.ReturnImmediately(out.Value)
	}
	if v, ok := inv.ReturnValue(); ok {
		return host.ReturnImmediately(v)
	}
	return host.Proceed()
}

func (l *Listener) swallow(reason string, err error, ev *host.Event) {
	l.failures.ListenerFailure(l.enhancer.Kind(), reason)
	l.failureLog.Do(func() {
		l.logger.Error("enhancer failed, proceeding",
			"class", ev.ClassName,
			"method", ev.MethodName,
			"reason", reason,
			"error", err,
		)
	})
}
