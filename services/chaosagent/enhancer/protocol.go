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
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Actions understood by protocol enhancers.
const (
	ActionDelay  = "delay"
	ActionThrows = "throws"
	ActionMock   = "mock"
)

// DefaultProtocolTimeout is used when a call's timeout cannot be read.
const DefaultProtocolTimeout = 3000 * time.Millisecond

// Call is the protocol-level view of an intercepted invocation.
type Call struct {
	// Endpoint is the URL (query string removed) or service interface.
	Endpoint string

	// Verb is the HTTP method or RPC method name.
	Verb string

	// Timeout is the client or call timeout.
	Timeout time.Duration
}

// extractor reads the protocol view of an invocation. An error makes the
// firing a no-op.
type extractor func(inv *Invocation) (Call, error)

// Protocol is an enhancer for a client or server library call. It reads
// the call details by reflection and then applies one action.
//
// Parameters: action plus the parameters of that action (time/offset for
// delay, exception/message for throws, value/type for mock). A delay
// without time waits for the call's own timeout.
type Protocol struct {
	Base
	action  string
	allowed []string
	extract extractor

	plan    delayPlan
	hasTime bool
	throw   throwSpec
	mock    mockSpec
}

type protocolOptions struct {
	extract     extractor
	allowed     []string
	messageKeys []string
}

func newProtocol(cfg Config, opts protocolOptions) (*Protocol, error) {
	p := &Protocol{extract: opts.extract, allowed: opts.allowed}
	p.init(cfg)
	p.action = strings.ToLower(p.Param("action"))

	switch {
	case p.action == "":
		p.logger.Warn("no action configured, firings will be skipped")
		return p, nil
	case !slices.Contains(p.allowed, p.action):
		return nil, fmt.Errorf("%w: %w: %s supports %s, got %q",
			ErrIllegalParameter, ErrUnsupportedAction, cfg.Kind, strings.Join(p.allowed, ", "), p.action)
	}

	switch p.action {
	case ActionDelay:
		plan, err := parseDelayPlan(cfg.Params)
		if err != nil {
			return nil, err
		}
		p.plan = plan
		p.hasTime = strings.TrimSpace(cfg.Params["time"]) != ""
	case ActionThrows:
		p.throw = parseThrowSpec(cfg.Params, opts.messageKeys...)
	case ActionMock:
		p.mock = parseMockSpec(cfg.Params, p.logger)
	}
	return p, nil
}

// Action returns the configured action, empty when none.
func (p *Protocol) Action() string { return p.action }

// Enhance reads the call details and applies the configured action.
func (p *Protocol) Enhance(ctx context.Context, inv *Invocation) (Outcome, error) {
	if p.action == "" {
		p.logger.Warn("no action configured, skipping")
		return Continue(), nil
	}

	call, err := p.extract(inv)
	if err != nil {
		p.logger.Warn("cannot read call details, skipping",
			"class", inv.ClassName, "method", inv.MethodName, "error", err)
		return Continue(), nil
	}

	logger := p.logger.With(
		"endpoint", call.Endpoint,
		"verb", call.Verb,
		"timeout_ms", call.Timeout.Milliseconds(),
		"action", p.action,
	)

	switch p.action {
	case ActionDelay:
		d := call.Timeout
		if p.hasTime {
			d = p.plan.pick()
		}
		logger.Info("injecting delay", "delay_ms", d.Milliseconds())
		if !sleep(ctx, d) {
			logger.Warn("delay interrupted", "error", ctx.Err())
			return Continue(), nil
		}
		p.observer.Delayed(p.kind, d)
		p.increment()
		return Continue(), nil

	case ActionThrows:
		f := p.throw.resolve(p.catalogue)
		logger.Info("injecting failure", "type", f.Type, "message", f.Message)
		p.increment()
		return Throw(f), nil

	case ActionMock:
		inv.SetReturnValue(p.mock.value)
		logger.Info("forging return value", "value", p.mock.value, "type", p.mock.valueType)
		p.increment()
		return ReturnValue(p.mock.value), nil
	}
	return Continue(), nil
}

// Describe echoes the parameters of the configured action.
func (p *Protocol) Describe() map[string]any {
	switch p.action {
	case ActionDelay:
		return p.echo("time", "offset")
	case ActionThrows:
		return p.echo("exception", "message", "exceptionMessage")
	case ActionMock:
		return p.echo("value", "returnValue", "type")
	}
	return map[string]any{}
}

// millis converts a positive millisecond count to a duration, falling back
// to DefaultProtocolTimeout.
func millis(ms int64) time.Duration {
	if ms <= 0 {
		return DefaultProtocolTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// stripQuery removes the query string and fragment from a URL.
func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}
