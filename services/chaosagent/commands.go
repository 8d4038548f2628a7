// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaosagent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/experiment"
	"github.com/AleutianAI/chaosagent/services/chaosagent/match"
	"github.com/AleutianAI/chaosagent/services/chaosagent/response"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
	"github.com/AleutianAI/chaosagent/services/chaosagent/watch"
)

// Command names.
const (
	CommandCreate  = "create"
	CommandDestroy = "destroy"
	CommandStatus  = "status"
	CommandList    = "list"
)

// Parameter keys read by the commands.
const (
	ParamTarget     = "target"
	ParamAction     = "action"
	ParamClassName  = "classname"
	ParamMethodName = "methodname"
	ParamLimit      = "limit"
	ParamUID        = "uid"
)

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// Dispatch runs command with params and returns its envelope.
//
// Description:
//
//	Unknown commands yield NOT_FOUND. Handler errors are mapped with
//	errors.Is: parameter errors become ILLEGAL_PARAMETER, unknown
//	experiments NOT_FOUND, anything else SERVER_ERROR. A handler panic is
//	recovered into SERVER_ERROR.
//
// Thread Safety: Safe for concurrent use.
func (m *Module) Dispatch(ctx context.Context, command string, params map[string]string) (resp response.Response) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "chaosagent.command",
		trace.WithAttributes(attribute.String("command", command)),
	)
	defer span.End()

	logger := m.logger.With("command", command)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			telemetry.RecordError(span, err)
			logger.Error("command panicked", "panic", r)
			resp = response.Failf(response.CodeServerError, "Command execution failed: %v", r)
		}
		code := int(resp.Code)
		span.SetAttributes(attribute.Int("code", code))
		m.metrics.RecordCommand(command, code)
		m.instruments.ObserveCommand(ctx, command, code, time.Since(start))
		logger.Info("command dispatched",
			"code", code,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	m.mu.RLock()
	active := m.handlers != nil
	handler, ok := m.handlers[command]
	m.mu.RUnlock()

	if !active {
		return response.ServerError(ErrNotActive.Error())
	}
	if !ok {
		return response.NotFound(fmt.Sprintf("%s: %s", ErrUnknownCommand, command))
	}

	result, err := handler(ctx, params)
	if err != nil {
		telemetry.RecordError(span, err)
		code := codeFor(err)
		msg := err.Error()
		if code == response.CodeServerError {
			msg = "Command execution failed: " + msg
			logger.Error("command failed", "error", err)
		} else {
			logger.Warn("command rejected", "error", err)
		}
		return response.Fail(code, msg)
	}
	telemetry.SetSpanOK(span)
	return response.OK(result)
}

// codeFor maps an error to an envelope code.
func codeFor(err error) response.Code {
	switch {
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrIllegalParameter),
		errors.Is(err, ErrBadRequestBody),
		errors.Is(err, enhancer.ErrIllegalParameter),
		errors.Is(err, enhancer.ErrUnknownKind):
		return response.CodeIllegalParameter
	case errors.Is(err, experiment.ErrNotFound),
		errors.Is(err, ErrUnknownCommand):
		return response.CodeNotFound
	default:
		return response.CodeServerError
	}
}

// -----------------------------------------------------------------------------
// create
// -----------------------------------------------------------------------------

// create builds an enhancer, records the experiment and queues its watch.
func (m *Module) create(_ context.Context, params map[string]string) (any, error) {
	target := strings.TrimSpace(params[ParamTarget])
	action := strings.TrimSpace(params[ParamAction])
	if target == "" && action == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, ParamTarget)
	}

	kind, err := m.resolveKind(target, action)
	if err != nil {
		return nil, err
	}

	limit, err := parseLimit(params[ParamLimit])
	if err != nil {
		return nil, err
	}

	id := experiment.NewID()
	bag := maps.Clone(params)
	bag[ParamUID] = id

	e, err := m.enhancers.Create(enhancer.Config{
		ID:        id,
		Kind:      kind,
		Pointcut:  match.New(params[ParamClassName], params[ParamMethodName]),
		Params:    bag,
		Limit:     limit,
		Catalogue: m.catalogue,
		Observer:  m.metrics,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s enhancer: %w", kind, err)
	}

	if _, err := m.experiments.Put(e); err != nil {
		return nil, fmt.Errorf("record experiment: %w", err)
	}

	watches := m.Watches()
	if watches == nil {
		_, _ = m.experiments.Remove(id)
		return nil, ErrNotActive
	}
	if err := watches.Watch(e); err != nil {
		_, _ = m.experiments.Remove(id)
		return nil, fmt.Errorf("queue watch: %w", err)
	}
	m.metrics.SetActiveExperiments(m.experiments.Len())

	m.logger.Info("experiment created",
		"experiment_id", id,
		"kind", kind,
		"pointcut", e.Pointcut().String(),
		"limit", limit,
	)
	if e.Pointcut().IsWildcard() {
		m.logger.Warn("experiment matches every class and method", "experiment_id", id)
	}

	result := map[string]any{
		"experimentId": id,
		"target":       orDefault(target, kind),
		"action":       orDefault(action, kind),
		"status":       "created",
	}
	if v, ok := params[ParamClassName]; ok {
		result[ParamClassName] = v
	}
	if v, ok := params[ParamMethodName]; ok {
		result[ParamMethodName] = v
	}
	return result, nil
}

// resolveKind looks the target up first, then the action.
func (m *Module) resolveKind(target, action string) (string, error) {
	for _, name := range []string{target, action} {
		if name == "" {
			continue
		}
		if _, ok := m.enhancers.Get(name); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: target/action %s/%s", enhancer.ErrUnknownKind, target, action)
}

// parseLimit parses the limit parameter. Absent or blank means unlimited.
func parseLimit(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrIllegalParameter, ParamLimit, raw)
	}
	return n, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// -----------------------------------------------------------------------------
// destroy
// -----------------------------------------------------------------------------

// destroy removes the experiment and its watch. Watch removal failures are
// logged; the experiment is gone either way.
func (m *Module) destroy(ctx context.Context, params map[string]string) (any, error) {
	id := strings.TrimSpace(params[ParamUID])
	if id == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, ParamUID)
	}

	if _, err := m.experiments.Remove(id); err != nil {
		return nil, err
	}
	m.metrics.SetActiveExperiments(m.experiments.Len())

	if watches := m.Watches(); watches != nil {
		if err := watches.Delete(ctx, id); err != nil {
			if errors.Is(err, watch.ErrNotWatched) {
				m.logger.Debug("experiment had no watch", "experiment_id", id)
			} else {
				m.logger.Error("watch removal failed", "experiment_id", id, "error", err)
			}
		}
	}

	m.logger.Info("experiment destroyed", "experiment_id", id)
	return map[string]any{
		"experimentId": id,
		"status":       "destroyed",
	}, nil
}

// -----------------------------------------------------------------------------
// status / list
// -----------------------------------------------------------------------------

// status reports the module state and a compact record per experiment.
func (m *Module) status(_ context.Context, _ map[string]string) (any, error) {
	entries := m.experiments.Snapshot()
	experiments := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		e := entry.Enhancer
		experiments = append(experiments, map[string]any{
			"uid":         e.ID(),
			"action":      actionOf(e),
			"effect":      effectOf(e),
			"effectCount": e.EffectCount(),
			"limit":       e.Limit(),
		})
	}

	result := map[string]any{
		"version":             Version,
		"moduleId":            m.id,
		"status":              m.Phase().statusName(),
		"registeredHandlers":  m.handlerNames(),
		"registeredEnhancers": m.enhancers.Names(),
		"failureTypes":        m.catalogue.Names(),
		"experimentCount":     len(entries),
		"experiments":         experiments,
	}

	snap, err := m.metrics.Snapshot()
	if err != nil {
		m.logger.Warn("metrics snapshot failed", "error", err)
	} else {
		result["metrics"] = snap
	}
	return result, nil
}

// list echoes the full configuration of every experiment.
func (m *Module) list(_ context.Context, _ map[string]string) (any, error) {
	entries := m.experiments.Snapshot()
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, describe(entry))
	}
	return out, nil
}

// describe builds one list record. Kind-specific keys never override the
// common fields.
func describe(entry experiment.Entry) map[string]any {
	e := entry.Enhancer
	params := e.Params()

	rec := e.Describe()
	if rec == nil {
		rec = make(map[string]any)
	}
	maps.Copy(rec, map[string]any{
		"uid":         e.ID(),
		"action":      actionOf(e),
		"target":      orDefault(strings.TrimSpace(params[ParamTarget]), e.Kind()),
		"effectCount": e.EffectCount(),
		"limit":       e.Limit(),
		"status":      "running",
		"createTime":  entry.CreatedAt.UnixMilli(),
	})
	if v, ok := params[ParamClassName]; ok {
		rec["className"] = v
	}
	if v, ok := params[ParamMethodName]; ok {
		rec["methodName"] = v
	}
	return rec
}

// effectOf names what the experiment does when it fires: the protocol
// action, the dynamic delegate kind, or the kind itself. Empty means the
// protocol enhancer is a no-op.
func effectOf(e enhancer.Enhancer) string {
	switch x := e.(type) {
	case *enhancer.Protocol:
		return x.Action()
	case *enhancer.Dynamic:
		return x.Delegate()
	default:
		return e.Kind()
	}
}

// actionOf returns the action parameter, or the kind when none was given.
func actionOf(e enhancer.Enhancer) string {
	return orDefault(strings.TrimSpace(e.Params()[ParamAction]), e.Kind())
}
