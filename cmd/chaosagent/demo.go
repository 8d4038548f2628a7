// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host/inproc"
	"github.com/AleutianAI/chaosagent/services/chaosagent/match"
)

// demoWorkload calls a fixed set of sites through the host at a steady rate
// so experiments can be tried without instrumenting a real program.
//
// Targets it exercises:
//
//	svc.Order#submit      returns int       (delay, throws, mock)
//	svc.Price#quote       returns float64   (mock type=double)
//	web.Router#ServeHTTP  *http.Request arg (httpserver)
type demoWorkload struct {
	host    *inproc.Host
	limiter *rate.Limiter
	logger  *slog.Logger

	// entries counts method entries seen by the tap, faulted or not.
	entries atomic.Int64
}

type demoStep func(ctx context.Context, h *inproc.Host) (any, error)

var demoSteps = []struct {
	site string
	run  demoStep
}{
	{"svc.Order#submit", func(ctx context.Context, h *inproc.Host) (any, error) {
		return inproc.Call(ctx, h, inproc.Site{Class: "svc.Order", Method: "submit", Args: []any{"sku-1", 2}},
			func(context.Context) (int, error) { return 2, nil })
	}},
	{"svc.Price#quote", func(ctx context.Context, h *inproc.Host) (any, error) {
		return inproc.Call(ctx, h, inproc.Site{Class: "svc.Price", Method: "quote", Args: []any{"sku-1"}},
			func(context.Context) (float64, error) { return 9.99, nil })
	}},
	{"web.Router#ServeHTTP", func(ctx context.Context, h *inproc.Host) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://demo.local/api/orders?id=7", nil)
		if err != nil {
			return nil, err
		}
		return inproc.Call(ctx, h, inproc.Site{Class: "web.Router", Method: "ServeHTTP", Target: struct{}{}, Args: []any{nil, req}},
			func(context.Context) (int, error) { return http.StatusOK, nil })
	}},
}

func newDemoWorkload(h *inproc.Host, perSecond float64, logger *slog.Logger) *demoWorkload {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &demoWorkload{
		host:    h,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger.With("component", "demo"),
	}
}

// tap installs a listener that counts entries on every demo site and lets
// them proceed. Run installs it at startup, ahead of any experiment, so it
// also counts calls that experiments fault.
func (d *demoWorkload) tap(ctx context.Context) (host.Handle, error) {
	count := host.ListenerFunc(func(context.Context, *host.Event) host.Directive {
		d.entries.Add(1)
		return host.Proceed()
	})
	return d.host.Watch(ctx, match.New("", ""), count, host.EventBefore)
}

// Run loops over the steps until ctx is done.
func (d *demoWorkload) Run(ctx context.Context) error {
	handle, err := d.tap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.host.Delete(context.Background(), handle); err != nil {
			d.logger.Warn("removing demo tap failed", slog.String("error", err.Error()))
		}
		d.logger.Info("demo workload stopped", slog.Int64("entries", d.entries.Load()))
	}()

	d.logger.Info("demo workload started", slog.Float64("rate", float64(d.limiter.Limit())))
	for i := 0; ; i++ {
		// With burst 1 Wait only fails when ctx is done or its deadline
		// falls before the next token.
		if err := d.limiter.Wait(ctx); err != nil {
			return nil
		}
		step := demoSteps[i%len(demoSteps)]

		start := time.Now()
		out, err := step.run(ctx, d.host)
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			d.logger.Info("demo call failed",
				slog.String("site", step.site),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()))
		default:
			d.logger.Debug("demo call",
				slog.String("site", step.site),
				slog.Duration("elapsed", elapsed),
				slog.Any("result", out))
		}
	}
}
