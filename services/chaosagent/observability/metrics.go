// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chaos agent.
//
// # Description
//
// Each module owns a private prometheus.Registry so that several modules
// (and tests) can coexist in one process. Metrics include:
//   - Command counters (by command and response code)
//   - Fault counters and injected delay histograms (by enhancer kind)
//   - Listener failure counters (by enhancer kind and reason)
//   - Watch install counters and the in-flight install gauge
//   - The live experiment gauge
//
// The registry is not served over HTTP. The status command reports a
// gathered Snapshot instead.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "chaosagent"

// Install outcomes used as the status label of WatchInstallsTotal.
const (
	InstallSuccess   = "success"
	InstallError     = "error"
	InstallCancelled = "cancelled"
)

// Listener failure reasons used as the reason label of ListenerFailuresTotal.
const (
	ReasonError = "error"
	ReasonPanic = "panic"
)

// Metrics holds the Prometheus metrics of one module.
//
// # Fields
//
//   - CommandsTotal: Counter of commands by command and code
//   - EffectsTotal: Counter of affected invocations by enhancer kind
//   - DelaySeconds: Histogram of injected delays by enhancer kind
//   - ListenerFailuresTotal: Counter of swallowed enhancer failures
//   - WatchInstallsTotal: Counter of watch installs by status
//   - PendingInstalls: Gauge of installs queued or running
//   - ActiveExperiments: Gauge of live experiments
type Metrics struct {
	registry *prometheus.Registry

	// CommandsTotal counts dispatched commands.
	// Labels: command (create, destroy, status, list, other), code (200, 400, 404, 500)
	CommandsTotal *prometheus.CounterVec

	// EffectsTotal counts invocations an enhancer affected.
	// Labels: kind
	EffectsTotal *prometheus.CounterVec

	// DelaySeconds measures injected delays.
	// Labels: kind
	DelaySeconds *prometheus.HistogramVec

	// ListenerFailuresTotal counts enhancer errors and panics swallowed by
	// the listener.
	// Labels: kind, reason (error, panic)
	ListenerFailuresTotal *prometheus.CounterVec

	// WatchInstallsTotal counts completed watch installs.
	// Labels: status (success, error, cancelled)
	WatchInstallsTotal *prometheus.CounterVec

	// PendingInstalls tracks installs queued or running.
	PendingInstalls prometheus.Gauge

	// ActiveExperiments tracks live experiments.
	ActiveExperiments prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Total number of commands by command and response code",
			},
			[]string{"command", "code"},
		),

		EffectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "effects_total",
				Help:      "Total number of invocations affected by an enhancer",
			},
			[]string{"kind"},
		),

		DelaySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "delay_seconds",
				Help:      "Injected delay in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),

		ListenerFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "listener_failures_total",
				Help:      "Total enhancer failures swallowed by the listener",
			},
			[]string{"kind", "reason"},
		),

		WatchInstallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "watch_installs_total",
				Help:      "Total watch installs by status",
			},
			[]string{"status"},
		),

		PendingInstalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "pending_installs",
				Help:      "Number of watch installs queued or running",
			},
		),

		ActiveExperiments: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_experiments",
				Help:      "Number of live experiments",
			},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordCommand records a dispatched command and its response code.
func (m *Metrics) RecordCommand(command string, code int) {
	m.CommandsTotal.WithLabelValues(command, fmt.Sprint(code)).Inc()
}

// Fired records an affected invocation.
func (m *Metrics) Fired(kind string) {
	m.EffectsTotal.WithLabelValues(kind).Inc()
}

// Delayed records an injected delay.
func (m *Metrics) Delayed(kind string, d time.Duration) {
	m.DelaySeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ListenerFailure records a swallowed enhancer failure.
func (m *Metrics) ListenerFailure(kind, reason string) {
	m.ListenerFailuresTotal.WithLabelValues(kind, reason).Inc()
}

// InstallQueued increments the pending install gauge.
func (m *Metrics) InstallQueued() {
	m.PendingInstalls.Inc()
}

// InstallDone decrements the pending install gauge and counts the outcome.
func (m *Metrics) InstallDone(status string) {
	m.PendingInstalls.Dec()
	m.WatchInstallsTotal.WithLabelValues(status).Inc()
}

// SetActiveExperiments sets the live experiment gauge.
func (m *Metrics) SetActiveExperiments(n int) {
	m.ActiveExperiments.Set(float64(n))
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot gathers the registry into a flat map keyed by series name, e.g.
// `chaosagent_effects_total{kind="delay"}`. Histograms contribute _count
// and _sum series.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		for _, metric := range mf.GetMetric() {
			pairs := make([]string, 0, len(metric.GetLabel()))
			for _, l := range metric.GetLabel() {
				pairs = append(pairs, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			sort.Strings(pairs)
			labels := ""
			if len(pairs) > 0 {
				labels = "{" + strings.Join(pairs, ",") + "}"
			}

			switch {
			case metric.GetCounter() != nil:
				out[name+labels] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[name+labels] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[name+"_count"+labels] = float64(metric.GetHistogram().GetSampleCount())
				out[name+"_sum"+labels] = metric.GetHistogram().GetSampleSum()
			case metric.GetUntyped() != nil:
				out[name+labels] = metric.GetUntyped().GetValue()
			}
		}
	}
	return out, nil
}
