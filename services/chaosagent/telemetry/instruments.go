// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the agent's OTel latency histograms.
//
// They complement the client_golang counters in the observability package:
// with the Prometheus exporter they land in the same registry.
type Instruments struct {
	// CommandDuration tracks command dispatch latency in seconds.
	// Labels: command, code
	CommandDuration metric.Float64Histogram

	// InstallDuration tracks how long the host took to install a watch.
	// Labels: status
	InstallDuration metric.Float64Histogram
}

// NewInstruments registers the histograms with meter. A nil meter uses
// otel.Meter(TracerName).
//
// Thread Safety: Safe for concurrent use after creation.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(TracerName)
	}
	in := &Instruments{}
	var err error

	in.CommandDuration, err = meter.Float64Histogram(
		"chaosagent_command_duration_seconds",
		metric.WithDescription("Command dispatch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create command_duration: %w", err)
	}

	in.InstallDuration, err = meter.Float64Histogram(
		"chaosagent_install_duration_seconds",
		metric.WithDescription("Watch install duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create install_duration: %w", err)
	}
	return in, nil
}

// ObserveCommand records one command dispatch.
func (in *Instruments) ObserveCommand(ctx context.Context, command string, code int, d time.Duration) {
	if in == nil {
		return
	}
	in.CommandDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("command", command),
		attribute.Int("code", code),
	))
}

// ObserveInstall records one watch install.
func (in *Instruments) ObserveInstall(ctx context.Context, status string, d time.Duration) {
	if in == nil {
		return
	}
	in.InstallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}
