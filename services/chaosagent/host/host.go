// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host defines the contract between the fault-injection engine and
// the interception host that raises method events.
//
// # Description
//
// The engine never rewrites code itself. A host installs interception on
// every class/method accepted by a Filter, raises an Event when an
// intercepted method is entered, and honours the Directive returned by the
// Listener:
//
//	┌──────────────┐  Watch(filter, listener)   ┌──────────────┐
//	│ Watch manager│ ─────────────────────────► │     Host     │
//	└──────────────┘ ◄───────── Handle ──────── └──────┬───────┘
//	                                                   │ Event
//	                                                   ▼
//	                                            ┌──────────────┐
//	                                            │   Listener   │
//	                                            └──────┬───────┘
//	                                                   │ Directive
//	                               Proceed / ReturnImmediately / ThrowImmediately
//
// Two implementations ship with this module: inproc.Host, used by Go
// applications that declare interception points explicitly, and
// hosttest.Fake, used by tests to raise synthetic events.
package host

import (
	"context"
	"fmt"
)

// EventType identifies which phase of a method invocation an event reports.
type EventType int

const (
	// EventBefore fires on method entry, before the original body runs.
	EventBefore EventType = iota + 1

	// EventReturn fires after the original body returned normally.
	EventReturn

	// EventThrows fires after the original body failed.
	EventThrows
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventBefore:
		return "BEFORE"
	case EventReturn:
		return "RETURN"
	case EventThrows:
		return "THROWS"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Handle identifies one installed interception.
type Handle int

// Filter selects the classes and methods a watch applies to.
type Filter interface {
	MatchClass(name string) bool
	MatchMethod(name string) bool
}

// NoneFilter matches no class and no method.
type NoneFilter struct{}

// MatchClass always returns false.
func (NoneFilter) MatchClass(string) bool { return false }

// MatchMethod always returns false.
func (NoneFilter) MatchMethod(string) bool { return false }

// Event is raised by the host when an intercepted method fires.
//
// Listeners must treat Args as read-only.
type Event struct {
	Type EventType

	// Target is the receiver, nil for static methods.
	Target any

	ClassName  string
	MethodName string

	// MethodDesc is the host-specific method signature.
	MethodDesc string

	Args []any

	// Loader is an opaque handle to the class loader or module that owns
	// the intercepted class.
	Loader any
}

// Method is the host's resolved view of an intercepted method.
type Method struct {
	ClassName  string
	Name       string
	Descriptor string
	Static     bool
}

// Action tells the host what to do with the intercepted invocation.
type Action int

const (
	// ActionProceed runs the original method body.
	ActionProceed Action = iota

	// ActionReturn returns Directive.Value without running the body.
	ActionReturn

	// ActionThrow fails with Directive.Err without running the body.
	ActionThrow
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionReturn:
		return "return"
	case ActionThrow:
		return "throw"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Directive is a listener's answer to an event.
type Directive struct {
	Action Action
	Value  any
	Err    error
}

// Proceed lets the original method run unaltered.
func Proceed() Directive {
	return Directive{Action: ActionProceed}
}

// ReturnImmediately makes the method return v without running its body.
// v may be nil.
func ReturnImmediately(v any) Directive {
	return Directive{Action: ActionReturn, Value: v}
}

// ThrowImmediately makes the method fail with err without running its body.
func ThrowImmediately(err error) Directive {
	return Directive{Action: ActionThrow, Err: err}
}

// Listener receives events for one watch.
type Listener interface {
	OnEvent(ctx context.Context, ev *Event) Directive
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev *Event) Directive

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, ev *Event) Directive {
	return f(ctx, ev)
}

// Host installs and removes interception.
//
// Thread Safety: implementations must be safe for concurrent use.
type Host interface {
	// Watch installs interception on every method accepted by filter, now
	// and for classes loaded later, and delivers the requested event types
	// to l. It may block for as long as the host needs to rescan, but must
	// return ctx.Err() promptly once ctx is done.
	Watch(ctx context.Context, filter Filter, l Listener, events ...EventType) (Handle, error)

	// Delete removes an installed interception.
	Delete(ctx context.Context, h Handle) error

	// ResolveMethod resolves an event's method descriptor.
	ResolveMethod(ev *Event) (*Method, error)
}
