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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host/hosttest"
	"github.com/AleutianAI/chaosagent/services/chaosagent/host/inproc"
	"github.com/AleutianAI/chaosagent/services/chaosagent/response"
	"github.com/AleutianAI/chaosagent/services/chaosagent/watch"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func newActiveModule(t *testing.T) (*Module, *hosttest.Fake) {
	t.Helper()
	h := hosttest.New()
	m := New()
	require.NoError(t, m.Load(context.Background(), h))
	require.NoError(t, m.Activate(context.Background()))
	t.Cleanup(func() { _ = m.Unload(context.Background()) })
	return m, h
}

// mustCreate runs create and waits until the watch is installed.
func mustCreate(t *testing.T, m *Module, params map[string]string) string {
	t.Helper()
	resp := m.Dispatch(context.Background(), CommandCreate, params)
	require.True(t, resp.Success, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	id, ok := result["experimentId"].(string)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.Watches().Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, watch.StateInstalled, st.State)
	return id
}

func timedInvoke(h *hosttest.Fake, class, method string, args ...any) (time.Duration, error) {
	start := time.Now()
	_, err := h.Invoke(context.Background(), inproc.Site{Class: class, Method: method, Args: args},
		func(context.Context) (any, error) { return "original", nil })
	return time.Since(start), err
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func TestLifecycle_PhaseOrder(t *testing.T) {
	ctx := context.Background()
	m := New()
	assert.Equal(t, PhaseNew, m.Phase())

	assert.ErrorIs(t, m.Activate(ctx), ErrInvalidPhase)
	assert.ErrorIs(t, m.Freeze(ctx), ErrInvalidPhase)
	assert.ErrorIs(t, m.Unload(ctx), ErrInvalidPhase)
	assert.ErrorIs(t, m.Load(ctx, nil), ErrNilHost)

	h := hosttest.New()
	require.NoError(t, m.Load(ctx, h))
	assert.ErrorIs(t, m.Load(ctx, h), ErrInvalidPhase)
	assert.ErrorIs(t, m.Freeze(ctx), ErrInvalidPhase)

	require.NoError(t, m.Activate(ctx))
	assert.Equal(t, PhaseActive, m.Phase())
	assert.ErrorIs(t, m.Activate(ctx), ErrInvalidPhase)

	require.NoError(t, m.Freeze(ctx))
	assert.Equal(t, PhaseFrozen, m.Phase())
	assert.True(t, m.Frozen())

	require.NoError(t, m.Activate(ctx))
	assert.False(t, m.Frozen())

	require.NoError(t, m.Unload(ctx))
	assert.Equal(t, PhaseUnloaded, m.Phase())
	assert.Nil(t, m.Watches())
}

func TestLifecycle_ActivateRegistersOnce(t *testing.T) {
	m, _ := newActiveModule(t)

	assert.Equal(t, []string{CommandCreate, CommandDestroy, CommandList, CommandStatus}, m.handlerNames())
	assert.Equal(t, 9, m.Enhancers().Len())

	require.NoError(t, m.Freeze(context.Background()))
	require.NoError(t, m.Activate(context.Background()))
	assert.Equal(t, 9, m.Enhancers().Len())
}

func TestLifecycle_FreezeMakesInterceptionInert(t *testing.T) {
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{"target": "throws", "classname": "svc.Order", "methodname": "submit"})

	require.NoError(t, m.Freeze(context.Background()))
	_, err := timedInvoke(h, "svc.Order", "submit")
	assert.NoError(t, err)

	status := m.Dispatch(context.Background(), CommandStatus, nil)
	require.True(t, status.Success)
	assert.Equal(t, "frozen", status.Result.(map[string]any)["status"])

	require.NoError(t, m.Activate(context.Background()))
	_, err = timedInvoke(h, "svc.Order", "submit")
	assert.ErrorIs(t, err, enhancer.ErrInjectedFailure)
}

func TestLifecycle_UnloadClearsEverything(t *testing.T) {
	ctx := context.Background()
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{"target": "throws", "classname": "svc.A"})
	mustCreate(t, m, map[string]string{"target": "delay", "classname": "svc.B", "time": "1"})
	require.Len(t, h.Handles(), 2)

	require.NoError(t, m.Unload(ctx))

	assert.Zero(t, m.Experiments().Len())
	assert.Empty(t, h.Handles())
	assert.Zero(t, m.Enhancers().Len())

	resp := m.Dispatch(ctx, CommandStatus, nil)
	assert.Equal(t, response.CodeServerError, resp.Code)

	require.NoError(t, m.Load(ctx, h))
	require.NoError(t, m.Activate(ctx))
	assert.Equal(t, 9, m.Enhancers().Len())
	assert.True(t, m.Dispatch(ctx, CommandList, nil).Success)
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func TestDispatch_UnknownCommand(t *testing.T) {
	m, _ := newActiveModule(t)

	resp := m.Dispatch(context.Background(), "explode", nil)
	assert.Equal(t, response.CodeNotFound, resp.Code)
	assert.Contains(t, resp.Error, "explode")
}

func TestDispatch_HandlerPanicBecomesServerError(t *testing.T) {
	m, _ := newActiveModule(t)
	m.mu.Lock()
	m.handlers["boom"] = func(context.Context, map[string]string) (any, error) { panic("nil deref") }
	m.mu.Unlock()

	resp := m.Dispatch(context.Background(), "boom", nil)
	assert.Equal(t, response.CodeServerError, resp.Code)
	assert.Contains(t, resp.Error, "nil deref")
}

func TestDispatch_UnexpectedErrorIsServerError(t *testing.T) {
	m, _ := newActiveModule(t)
	m.mu.Lock()
	m.handlers["flaky"] = func(context.Context, map[string]string) (any, error) {
		return nil, errors.New("disk on fire")
	}
	m.mu.Unlock()

	resp := m.Dispatch(context.Background(), "flaky", nil)
	assert.Equal(t, response.CodeServerError, resp.Code)
	assert.Equal(t, "Command execution failed: disk on fire", resp.Error)
}

func TestCreate_Validation(t *testing.T) {
	m, _ := newActiveModule(t)

	tests := []struct {
		name   string
		params map[string]string
		code   response.Code
	}{
		{"missing target and action", map[string]string{"classname": "svc.A"}, response.CodeIllegalParameter},
		{"unknown kind", map[string]string{"target": "meteor", "action": "strike"}, response.CodeIllegalParameter},
		{"bad limit", map[string]string{"target": "throws", "limit": "three"}, response.CodeIllegalParameter},
		{"negative limit", map[string]string{"target": "throws", "limit": "-1"}, response.CodeIllegalParameter},
		{"bad delay time", map[string]string{"target": "delay", "time": "soon"}, response.CodeIllegalParameter},
		{"unsupported protocol action", map[string]string{"target": "okhttp3", "action": "mock"}, response.CodeIllegalParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := m.Dispatch(context.Background(), CommandCreate, tt.params)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Zero(t, m.Experiments().Len(), "rejected creates leave nothing behind")
}

func TestCreate_ActionFallback(t *testing.T) {
	m, _ := newActiveModule(t)

	resp := m.Dispatch(context.Background(), CommandCreate, map[string]string{
		"target": "jvm", "action": "delay", "time": "10", "classname": "svc.A", "methodname": "run",
	})
	require.True(t, resp.Success, resp.Error)

	result := resp.Result.(map[string]any)
	assert.Len(t, result["experimentId"], 8)
	assert.Equal(t, "jvm", result["target"])
	assert.Equal(t, "delay", result["action"])
	assert.Equal(t, "created", result["status"])
	assert.Equal(t, "svc.A", result["classname"])
	assert.Equal(t, "run", result["methodname"])

	e, ok := m.Experiments().Get(result["experimentId"].(string))
	require.True(t, ok)
	assert.Equal(t, enhancer.KindDelay, e.Enhancer.Kind())
}

func TestCreate_DubboKindsResolveBeforeAction(t *testing.T) {
	m, _ := newActiveModule(t)

	tests := []struct {
		target string
		action string
	}{
		{"dubbo-consumer", "delay"},
		{"dubbo-provider", "throws"},
		{"dubbo-provider", "mock"},
	}
	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.action, func(t *testing.T) {
			id := mustCreate(t, m, map[string]string{
				"target": tt.target, "action": tt.action, "classname": "svc.Rpc", "methodname": "invoke",
			})

			entry, ok := m.Experiments().Get(id)
			require.True(t, ok)
			assert.Equal(t, tt.target, entry.Enhancer.Kind())

			p, ok := entry.Enhancer.(*enhancer.Protocol)
			require.True(t, ok, "got %T", entry.Enhancer)
			assert.Equal(t, tt.action, p.Action())
		})
	}

	resp := m.Dispatch(context.Background(), CommandCreate, map[string]string{
		"target": "dubbo-consumer", "action": "mock",
	})
	assert.Equal(t, response.CodeIllegalParameter, resp.Code, "consumer does not support mock")
}

func TestDestroy_Errors(t *testing.T) {
	m, _ := newActiveModule(t)

	resp := m.Dispatch(context.Background(), CommandDestroy, map[string]string{})
	assert.Equal(t, response.CodeIllegalParameter, resp.Code)

	resp = m.Dispatch(context.Background(), CommandDestroy, map[string]string{"uid": "deadbeef"})
	assert.Equal(t, response.CodeNotFound, resp.Code)
	assert.Contains(t, resp.Error, "deadbeef")
}

func TestStatus_Report(t *testing.T) {
	m, _ := newActiveModule(t)
	id := mustCreate(t, m, map[string]string{"target": "throws", "classname": "svc.A", "limit": "5"})

	resp := m.Dispatch(context.Background(), CommandStatus, nil)
	require.True(t, resp.Success)
	result := resp.Result.(map[string]any)

	assert.Equal(t, Version, result["version"])
	assert.Equal(t, "running", result["status"])
	assert.Equal(t, []string{"create", "destroy", "list", "status"}, result["registeredHandlers"])
	assert.Contains(t, result["registeredEnhancers"], "dynamic")
	assert.Equal(t, 1, result["experimentCount"])

	experiments := result["experiments"].([]map[string]any)
	require.Len(t, experiments, 1)
	assert.Equal(t, map[string]any{
		"uid": id, "action": "throws", "effect": "throws", "effectCount": int64(0), "limit": int64(5),
	}, experiments[0])
	assert.Contains(t, result["failureTypes"], "java.lang.RuntimeException")

	metrics := result["metrics"].(map[string]float64)
	assert.Equal(t, 1.0, metrics[`chaosagent_commands_total{code="200",command="create"}`])
	assert.Equal(t, 1.0, metrics["chaosagent_active_experiments"])
}

func TestStatus_EffectNamesWhatFires(t *testing.T) {
	m, _ := newActiveModule(t)
	ids := map[string]string{
		"protocol": mustCreate(t, m, map[string]string{"target": "okhttp3", "action": "throws", "classname": "svc.Http"}),
		"no-op":    mustCreate(t, m, map[string]string{"target": "httpserver", "classname": "svc.Web"}),
		"dynamic": mustCreate(t, m, map[string]string{
			"target": "dynamic", "classname": "svc.Price", "paramIndex": "0", "paramValue": "vip",
			"conditionType": "1", "actionType": "mock", "value": "x",
		}),
	}

	resp := m.Dispatch(context.Background(), CommandStatus, nil)
	require.True(t, resp.Success)

	effects := map[string]any{}
	for _, rec := range resp.Result.(map[string]any)["experiments"].([]map[string]any) {
		effects[rec["uid"].(string)] = rec["effect"]
	}
	assert.Equal(t, "throws", effects[ids["protocol"]])
	assert.Equal(t, "", effects[ids["no-op"]])
	assert.Equal(t, "mock", effects[ids["dynamic"]])
}

func TestCreate_WarnsOnWildcardPointcut(t *testing.T) {
	var buf bytes.Buffer
	m := New(WithLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))))
	require.NoError(t, m.Load(context.Background(), hosttest.New()))
	require.NoError(t, m.Activate(context.Background()))
	t.Cleanup(func() { _ = m.Unload(context.Background()) })

	mustCreate(t, m, map[string]string{"target": "throws", "classname": "svc.A"})
	assert.NotContains(t, buf.String(), "matches every class and method")

	id := mustCreate(t, m, map[string]string{"target": "throws"})
	assert.Contains(t, buf.String(), `"msg":"experiment matches every class and method"`)
	assert.Contains(t, buf.String(), id)
}

// -----------------------------------------------------------------------------
// Scenarios
// -----------------------------------------------------------------------------

func TestScenario_DelayLifecycle(t *testing.T) {
	const delay = 60 * time.Millisecond
	m, h := newActiveModule(t)
	id := mustCreate(t, m, map[string]string{
		"target": "delay", "classname": "svc.Order", "methodname": "submit",
		"time": "60", "limit": "3",
	})

	for i := range 3 {
		d, err := timedInvoke(h, "svc.Order", "submit")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, delay, "call %d", i+1)
	}
	d, err := timedInvoke(h, "svc.Order", "submit")
	require.NoError(t, err)
	assert.Less(t, d, delay, "fourth call is past the limit")

	resp := m.Dispatch(context.Background(), CommandDestroy, map[string]string{"uid": id})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{"experimentId": id, "status": "destroyed"}, resp.Result)

	_, ok := m.Experiments().Get(id)
	assert.False(t, ok)
	_, ok = m.Watches().Get(id)
	assert.False(t, ok)
	assert.Empty(t, h.Handles())
}

func TestScenario_MockNull(t *testing.T) {
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{
		"target": "mock", "classname": "svc.Cfg", "methodname": "get", "value": "", "type": "null",
	})

	called := false
	got, err := h.Invoke(context.Background(), inproc.Site{Class: "svc.Cfg", Method: "get"},
		func(context.Context) (any, error) {
			called = true
			return "original", nil
		})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, called)
}

func TestScenario_ThrowsFallback(t *testing.T) {
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{"target": "throws", "exception": "com.no.such.Type", "message": "boom"})

	_, err := timedInvoke(h, "svc.Anything", "run")
	require.Error(t, err)

	var f *enhancer.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, enhancer.GenericFailureType, f.Type)
	assert.Contains(t, f.Message, "com.no.such.Type")
	assert.Contains(t, f.Message, "boom")
}

func TestScenario_DynamicDispatch(t *testing.T) {
	const delay = 60 * time.Millisecond
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{
		"target": "dynamic", "classname": "svc.Price", "methodname": "quote",
		"paramIndex": "0", "paramValue": "vip", "conditionType": "1", "actionType": "3", "time": "60",
	})

	d, err := timedInvoke(h, "svc.Price", "quote", "vip")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, delay)

	d, err = timedInvoke(h, "svc.Price", "quote", "regular")
	require.NoError(t, err)
	assert.Less(t, d, delay)
}

func TestScenario_ListEcho(t *testing.T) {
	m, _ := newActiveModule(t)
	delayID := mustCreate(t, m, map[string]string{
		"target": "delay", "classname": "svc.Order", "methodname": "submit", "time": "2000", "limit": "3",
	})
	throwsID := mustCreate(t, m, map[string]string{
		"target": "throws", "exception": "com.no.such.Type", "message": "boom",
	})

	resp := m.Dispatch(context.Background(), CommandList, nil)
	require.True(t, resp.Success)
	records := resp.Result.([]map[string]any)
	require.Len(t, records, 2)

	byID := map[string]map[string]any{}
	for _, r := range records {
		byID[r["uid"].(string)] = r
	}
	require.Len(t, byID, 2)

	d := byID[delayID]
	assert.Equal(t, "delay", d["action"])
	assert.Equal(t, "delay", d["target"])
	assert.Equal(t, "2000", d["time"])
	assert.Equal(t, int64(3), d["limit"])
	assert.Equal(t, "svc.Order", d["className"])
	assert.Equal(t, "submit", d["methodName"])
	assert.Equal(t, "running", d["status"])
	assert.NotZero(t, d["createTime"])

	th := byID[throwsID]
	assert.Equal(t, "throws", th["action"])
	assert.Equal(t, "com.no.such.Type", th["exception"])
	assert.Equal(t, "boom", th["message"])
	assert.NotContains(t, th, "className")
}

func TestScenario_LimitAtomicity(t *testing.T) {
	const workers = 10
	m, h := newActiveModule(t)
	mustCreate(t, m, map[string]string{
		"target": "throws", "classname": "svc.Concurrent", "methodname": "hit", "limit": "3",
	})

	var thrown atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Fire(context.Background(), "svc.Concurrent", "hit", nil).Action == host.ActionThrow {
				thrown.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, thrown.Load(), int64(3))
	assert.LessOrEqual(t, thrown.Load(), int64(3+workers-1))

	id := mustCreate(t, m, map[string]string{
		"target": "throws", "classname": "svc.Serial", "methodname": "hit", "limit": "3",
	})
	serial := 0
	for range workers {
		if h.Fire(context.Background(), "svc.Serial", "hit", nil).Action == host.ActionThrow {
			serial++
		}
	}
	assert.Equal(t, 3, serial)

	e, ok := m.Experiments().Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(3), e.Enhancer.EffectCount())
}
