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
	"maps"
	"strings"
	"time"
)

// Condition compares an argument's text with the configured value.
type Condition int

const (
	ConditionEqual       Condition = 1
	ConditionNotEqual    Condition = 2
	ConditionContains    Condition = 3
	ConditionNotContains Condition = 4
)

// String returns the condition name.
func (c Condition) String() string {
	switch c {
	case ConditionEqual:
		return "equal"
	case ConditionNotEqual:
		return "not-equal"
	case ConditionContains:
		return "contains"
	case ConditionNotContains:
		return "not-contains"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

func (c Condition) match(actual, expected string) bool {
	switch c {
	case ConditionEqual:
		return actual == expected
	case ConditionNotEqual:
		return actual != expected
	case ConditionContains:
		return strings.Contains(actual, expected)
	case ConditionNotContains:
		return !strings.Contains(actual, expected)
	}
	return false
}

var conditionNames = map[string]Condition{
	"1": ConditionEqual, "equal": ConditionEqual, "eq": ConditionEqual,
	"2": ConditionNotEqual, "not-equal": ConditionNotEqual, "ne": ConditionNotEqual,
	"3": ConditionContains, "contains": ConditionContains, "contain": ConditionContains,
	"4": ConditionNotContains, "not-contains": ConditionNotContains, "not-contain": ConditionNotContains,
}

// actionKinds maps actionType codes and names to the delegate kind.
var actionKinds = map[string]string{
	"1": KindMock, KindMock: KindMock,
	"2": KindThrows, KindThrows: KindThrows,
	"3": KindDelay, KindDelay: KindDelay,
}

var delegateFactories = map[string]Factory{
	KindMock:   NewMock,
	KindThrows: NewThrows,
	KindDelay:  NewDelay,
}

// Dynamic picks a fault per invocation by inspecting one argument.
//
// Parameters: paramIndex, paramValue, conditionType (1 equal, 2 not-equal,
// 3 contains, 4 not-contains) and actionType (1 mock, 2 throws, 3 delay),
// plus the parameters of the delegate action.
type Dynamic struct {
	Base
	index     int
	value     string
	condition Condition
	delegate  string
	cfg       Config
}

// NewDynamic is the Factory for KindDynamic.
func NewDynamic(cfg Config) (Enhancer, error) {
	index, err := nonNegativeInt(cfg.Params, "paramIndex", 0)
	if err != nil {
		return nil, err
	}

	rawCond := strings.ToLower(strings.TrimSpace(cfg.Params["conditionType"]))
	if rawCond == "" {
		rawCond = "1"
	}
	cond, ok := conditionNames[rawCond]
	if !ok {
		return nil, fmt.Errorf("%w: conditionType=%q", ErrIllegalParameter, rawCond)
	}

	rawAction := strings.ToLower(strings.TrimSpace(cfg.Params["actionType"]))
	kind, ok := actionKinds[rawAction]
	if !ok {
		return nil, fmt.Errorf("%w: actionType=%q", ErrIllegalParameter, rawAction)
	}

	// Build one delegate now so its parameters are validated at creation.
	trial := cfg
	trial.Kind = kind
	if _, err := delegateFactories[kind](trial); err != nil {
		return nil, err
	}

	d := &Dynamic{
		index:     index,
		value:     cfg.Params["paramValue"],
		condition: cond,
		delegate:  kind,
		cfg:       cfg,
	}
	d.init(cfg)
	return d, nil
}

// Delegate returns the kind the enhancer dispatches to.
func (d *Dynamic) Delegate() string { return d.delegate }

// Enhance compares the configured argument and, on a match, runs a fresh
// delegate once. The effect counts only when the delegate took effect.
func (d *Dynamic) Enhance(ctx context.Context, inv *Invocation) (Outcome, error) {
	arg, ok := inv.Arg(d.index)
	if !ok {
		d.logger.Warn("paramIndex out of range, skipping",
			"param_index", d.index, "arg_count", len(inv.Args))
		return Continue(), nil
	}
	if isNil(arg) {
		d.logger.Warn("argument is nil, skipping", "param_index", d.index)
		return Continue(), nil
	}

	actual := fmt.Sprint(arg)
	if !d.condition.match(actual, d.value) {
		d.logger.Debug("condition not matched",
			"actual", actual, "expected", d.value, "condition", d.condition.String())
		return Continue(), nil
	}

	cfg := d.cfg
	cfg.Kind = d.delegate
	cfg.Limit = 0
	cfg.Catalogue = d.catalogue
	cfg.Observer = delayOnly{d.observer}
	delegate, err := delegateFactories[d.delegate](cfg)
	if err != nil {
		return Continue(), fmt.Errorf("build %s delegate: %w", d.delegate, err)
	}

	d.logger.Info("condition matched, dispatching", "delegate", d.delegate, "actual", actual)

	out, err := delegate.Enhance(ctx, inv)
	if delegate.EffectCount() > 0 {
		d.increment()
	}
	return out, err
}

// Describe echoes the dispatch parameters and the delegate's parameters.
func (d *Dynamic) Describe() map[string]any {
	out := d.echo("paramIndex", "paramValue", "conditionType", "actionType")
	maps.Copy(out, d.echo("time", "offset", "exception", "message", "value", "returnValue", "type"))
	return out
}

// delayOnly forwards delays but not effects, so a delegate's firing is
// counted once, under the dynamic kind.
type delayOnly struct{ Observer }

func (delayOnly) Fired(string) {}

func (o delayOnly) Delayed(_ string, d time.Duration) { o.Observer.Delayed(KindDynamic, d) }
