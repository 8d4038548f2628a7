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
	"math"
	"math/rand/v2"
	"time"
)

// MaxDelayMillis is the longest delay a time.Duration can hold, in ms.
const MaxDelayMillis = math.MaxInt64 / int64(time.Millisecond)

// delayPlan is a parsed time/offset pair in milliseconds.
type delayPlan struct {
	time   int
	offset int
}

func parseDelayPlan(params map[string]string) (delayPlan, error) {
	t, err := nonNegativeInt(params, "time", 0)
	if err != nil {
		return delayPlan{}, err
	}
	offset, err := nonNegativeInt(params, "offset", 0)
	if err != nil {
		return delayPlan{}, err
	}
	if int64(t) > MaxDelayMillis-int64(offset) {
		return delayPlan{}, fmt.Errorf("%w: time+offset=%d+%d exceeds %d ms",
			ErrIllegalParameter, t, offset, MaxDelayMillis)
	}
	return delayPlan{time: t, offset: offset}, nil
}

// pick draws the delay for one firing. A random value r in [0, offset)
// is added when even and subtracted when odd; a non-positive result
// becomes offset.
func (p delayPlan) pick() time.Duration {
	if p.offset <= 0 {
		return time.Duration(p.time) * time.Millisecond
	}
	r := rand.IntN(p.offset)
	ms := p.time + r
	if r%2 != 0 {
		ms = p.time - r
	}
	if ms <= 0 {
		ms = p.offset
	}
	return time.Duration(ms) * time.Millisecond
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Delay blocks the intercepted invocation before it proceeds.
//
// Parameters: time (ms, default 0) and offset (ms, default 0).
type Delay struct {
	Base
	plan delayPlan
}

// NewDelay is the Factory for KindDelay.
func NewDelay(cfg Config) (Enhancer, error) {
	plan, err := parseDelayPlan(cfg.Params)
	if err != nil {
		return nil, err
	}
	d := &Delay{plan: plan}
	d.init(cfg)
	return d, nil
}

// Enhance sleeps for the configured delay and then lets the method run. An
// interrupted delay does not count as an effect.
func (d *Delay) Enhance(ctx context.Context, inv *Invocation) (Outcome, error) {
	actual := d.plan.pick()

	d.logger.Info("injecting delay",
		"delay_ms", actual.Milliseconds(),
		"time_ms", d.plan.time,
		"offset_ms", d.plan.offset,
		"class", inv.ClassName,
		"method", inv.MethodName,
	)

	start := time.Now()
	if !sleep(ctx, actual) {
		d.logger.Warn("delay interrupted", "elapsed_ms", time.Since(start).Milliseconds(), "error", ctx.Err())
		return Continue(), nil
	}

	d.observer.Delayed(d.kind, actual)
	d.increment()
	return Continue(), nil
}

// Describe echoes time and offset.
func (d *Delay) Describe() map[string]any {
	return d.echo("time", "offset")
}
