// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enhancer implements the fault strategies bound to experiments.
//
// # Description
//
// An Enhancer decides, for one intercepted invocation, whether to act
// (Filter) and what to do (Enhance). Every variant embeds Base, which holds
// the experiment id, the pointcut, the parameter bag, the limit and the
// effect counter:
//
//	Base{id, kind, pointcut, params, limit, count}
//	  ├── delay, throws, mock
//	  ├── okhttp3, resttemplate, httpserver   (protocol, by action)
//	  ├── dubbo-consumer, dubbo-provider      (protocol, by action)
//	  └── dynamic                             (builds delay/throws/mock per firing)
//
// Enhance never raises control flow itself. It returns an Outcome that the
// listener turns into a host directive: Continue, ReturnValue or Throw.
//
// # Parameters
//
// Parameters are parsed once, when the enhancer is created. A parameter
// that cannot be parsed fails creation with ErrIllegalParameter. Problems
// only visible at firing time (a missing argument, an unreadable request
// object) make the firing a no-op, logged at warn.
//
// # Thread Safety
//
// Enhancers are immutable after creation except for the effect counter,
// which is atomic. All variants are safe for concurrent use.
package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/match"
)

// -----------------------------------------------------------------------------
// Enhancer
// -----------------------------------------------------------------------------

// Enhancer is a fault strategy bound to one experiment.
//
// The set of implementations is closed; every variant embeds Base.
type Enhancer interface {
	// ID returns the experiment id.
	ID() string

	// Kind returns the registered kind name, e.g. "delay".
	Kind() string

	// Pointcut returns the class/method predicate, nil for none.
	Pointcut() *match.Pointcut

	// Params returns a copy of the parameter bag.
	Params() map[string]string

	// Limit returns the maximum number of effective firings, 0 for unlimited.
	Limit() int64

	// EffectCount returns how many invocations this enhancer has affected.
	EffectCount() int64

	// LimitReached reports whether the limit has been consumed.
	LimitReached() bool

	// Filter reports whether the enhancer applies to inv.
	Filter(inv *Invocation) bool

	// Enhance applies the fault. A non-nil error is an unexpected failure;
	// the caller logs it and lets the original method proceed.
	Enhance(ctx context.Context, inv *Invocation) (Outcome, error)

	// Describe returns the kind-specific keys echoed by the list command.
	Describe() map[string]any

	base() *Base
}

// Observer receives fault events. The zero Config uses a no-op observer.
type Observer interface {
	// Fired is called each time an enhancer affects an invocation.
	Fired(kind string)

	// Delayed is called with every injected delay.
	Delayed(kind string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) Fired(string)                  {}
func (nopObserver) Delayed(string, time.Duration) {}

// Config carries everything a Factory needs to build an enhancer.
type Config struct {
	ID       string
	Kind     string
	Pointcut *match.Pointcut
	Params   map[string]string

	// Limit is the maximum number of effective firings, 0 for unlimited.
	Limit int64

	// Catalogue resolves failure type names. Nil means DefaultCatalogue.
	Catalogue *Catalogue

	Observer Observer
	Logger   *slog.Logger
}

// Factory builds an enhancer from a Config.
type Factory func(cfg Config) (Enhancer, error)

// -----------------------------------------------------------------------------
// Base
// -----------------------------------------------------------------------------

// Base holds the state shared by every enhancer variant.
type Base struct {
	id        string
	kind      string
	pointcut  *match.Pointcut
	params    map[string]string
	limit     int64
	count     atomic.Int64
	catalogue *Catalogue
	observer  Observer
	logger    *slog.Logger
}

func (b *Base) init(cfg Config) {
	b.id = cfg.ID
	b.kind = cfg.Kind
	b.pointcut = cfg.Pointcut
	b.params = maps.Clone(cfg.Params)
	if b.params == nil {
		b.params = make(map[string]string)
	}
	b.limit = max(cfg.Limit, 0)
	b.catalogue = cfg.Catalogue
	if b.catalogue == nil {
		b.catalogue = DefaultCatalogue()
	}
	b.observer = cfg.Observer
	if b.observer == nil {
		b.observer = nopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger.With("enhancer", cfg.Kind, "experiment_id", cfg.ID)
}

func (b *Base) base() *Base { return b }

// ID returns the experiment id.
func (b *Base) ID() string { return b.id }

// Kind returns the kind name.
func (b *Base) Kind() string { return b.kind }

// Pointcut returns the class/method predicate.
func (b *Base) Pointcut() *match.Pointcut { return b.pointcut }

// Params returns a copy of the parameter bag.
func (b *Base) Params() map[string]string { return maps.Clone(b.params) }

// Param returns a single parameter, trimmed.
func (b *Base) Param(key string) string { return strings.TrimSpace(b.params[key]) }

// Limit returns the firing cap.
func (b *Base) Limit() int64 { return b.limit }

// EffectCount returns the number of affected invocations.
func (b *Base) EffectCount() int64 { return b.count.Load() }

// LimitReached reports whether the firing cap has been consumed.
func (b *Base) LimitReached() bool {
	return b.limit > 0 && b.count.Load() >= b.limit
}

// Filter applies the limit and the pointcut. A nil pointcut accepts every
// invocation.
func (b *Base) Filter(inv *Invocation) bool {
	if inv == nil || b.LimitReached() {
		return false
	}
	return b.pointcut.Match(inv.ClassName, inv.MethodName)
}

// Describe returns no extra keys.
func (b *Base) Describe() map[string]any { return map[string]any{} }

// echo copies the named parameters that were supplied at creation.
func (b *Base) echo(keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := b.params[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Logger returns the enhancer's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

func (b *Base) increment() {
	b.count.Add(1)
	b.observer.Fired(b.kind)
}

// -----------------------------------------------------------------------------
// Invocation
// -----------------------------------------------------------------------------

// Invocation is the per-call context handed to an enhancer.
//
// Enhancers must not modify Args. The only mutable state is the mock return
// slot.
type Invocation struct {
	Target     any
	Method     *host.Method
	Args       []any
	ClassName  string
	MethodName string
	Loader     any

	returnValue any
	hasValue    bool
}

// NewInvocation builds an invocation from a host event and the resolved
// method.
func NewInvocation(ev *host.Event, m *host.Method) *Invocation {
	return &Invocation{
		Target:     ev.Target,
		Method:     m,
		Args:       ev.Args,
		ClassName:  ev.ClassName,
		MethodName: ev.MethodName,
		Loader:     ev.Loader,
	}
}

// Arg returns argument i, or false when the index is out of range.
func (inv *Invocation) Arg(i int) (any, bool) {
	if i < 0 || i >= len(inv.Args) {
		return nil, false
	}
	return inv.Args[i], true
}

// SetReturnValue fills the mock return slot. v may be nil.
func (inv *Invocation) SetReturnValue(v any) {
	inv.returnValue = v
	inv.hasValue = true
}

// ReturnValue returns the mock slot and whether it was set.
func (inv *Invocation) ReturnValue() (any, bool) {
	return inv.returnValue, inv.hasValue
}

// -----------------------------------------------------------------------------
// Outcome
// -----------------------------------------------------------------------------

// OutcomeKind enumerates what an enhancer asks the listener to do.
type OutcomeKind int

const (
	// OutcomeContinue lets the original method run.
	OutcomeContinue OutcomeKind = iota

	// OutcomeReturn substitutes the method's return value.
	OutcomeReturn

	// OutcomeThrow makes the method fail.
	OutcomeThrow
)

// String returns the outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeReturn:
		return "return"
	case OutcomeThrow:
		return "throw"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the typed result of Enhance.
type Outcome struct {
	Kind    OutcomeKind
	Value   any
	Failure *Failure
}

// Continue lets the original method run.
func Continue() Outcome { return Outcome{Kind: OutcomeContinue} }

// ReturnValue makes the method return v without running its body.
func ReturnValue(v any) Outcome { return Outcome{Kind: OutcomeReturn, Value: v} }

// Throw makes the method fail with f without running its body.
func Throw(f *Failure) Outcome { return Outcome{Kind: OutcomeThrow, Failure: f} }

// -----------------------------------------------------------------------------
// Parameter parsing
// -----------------------------------------------------------------------------

// nonNegativeInt parses params[key] as a non-negative int, returning def
// when the key is absent or blank.
func nonNegativeInt(params map[string]string, key string, def int) (int, error) {
	raw := strings.TrimSpace(params[key])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrIllegalParameter, key, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s=%d must not be negative", ErrIllegalParameter, key, n)
	}
	return n, nil
}

// firstParam returns the first non-blank value among keys.
func firstParam(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params[k]); v != "" {
			return v
		}
	}
	return ""
}
