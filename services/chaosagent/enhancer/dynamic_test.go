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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaosagent/services/chaosagent/match"
)

func TestDynamic_DelayOnMatchingArgument(t *testing.T) {
	cfg := cfgFor(KindDynamic, map[string]string{
		"paramIndex":    "0",
		"paramValue":    "vip",
		"conditionType": "1",
		"actionType":    "3",
		"time":          "40",
	})
	cfg.Pointcut = match.New("svc.Price", "quote")
	e, err := NewDynamic(cfg)
	require.NoError(t, err)

	start := time.Now()
	out, err := e.Enhance(context.Background(), invocation("svc.Price", "quote", "vip"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(1), e.EffectCount())

	start = time.Now()
	_, err = e.Enhance(context.Background(), invocation("svc.Price", "quote", "regular"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int64(1), e.EffectCount())
}

func TestDynamic_Conditions(t *testing.T) {
	tests := []struct {
		condition string
		arg       any
		fires     bool
	}{
		{"1", "vip", true},
		{"equal", "VIP", false},
		{"2", "regular", true},
		{"not-equal", "vip", false},
		{"3", "super-vip-user", true},
		{"contains", "regular", false},
		{"4", "regular", true},
		{"not-contains", "vip-1", false},
		{"1", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			e, err := NewDynamic(cfgFor(KindDynamic, map[string]string{
				"paramIndex":    "0",
				"paramValue":    "vip",
				"conditionType": tt.condition,
				"actionType":    "throws",
				"message":       "rejected",
			}))
			require.NoError(t, err)

			out, err := e.Enhance(context.Background(), invocation("svc.Price", "quote", tt.arg))
			require.NoError(t, err)
			if tt.fires {
				require.Equal(t, OutcomeThrow, out.Kind)
				assert.Equal(t, "rejected", out.Failure.Message)
				assert.Equal(t, int64(1), e.EffectCount())
			} else {
				assert.Equal(t, OutcomeContinue, out.Kind)
				assert.Zero(t, e.EffectCount())
			}
		})
	}
}

func TestDynamic_StringifiesArguments(t *testing.T) {
	e, err := NewDynamic(cfgFor(KindDynamic, map[string]string{
		"paramIndex": "1", "paramValue": "42", "conditionType": "1", "actionType": "1",
		"value": "cached", "type": "string",
	}))
	require.NoError(t, err)

	inv := invocation("svc.Price", "quote", "ignored", 42)
	out, err := e.Enhance(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReturn, out.Kind)
	assert.Equal(t, "cached", out.Value)
	_, set := inv.ReturnValue()
	assert.True(t, set)
}

func TestDynamic_NoopCases(t *testing.T) {
	e, err := NewDynamic(cfgFor(KindDynamic, map[string]string{
		"paramIndex": "2", "paramValue": "x", "conditionType": "2", "actionType": "2",
	}))
	require.NoError(t, err)

	out, err := e.Enhance(context.Background(), invocation("svc.A", "b", "only one"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind, "index out of range")

	out, err = e.Enhance(context.Background(), invocation("svc.A", "b", "a", "b", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind, "nil argument")

	assert.Zero(t, e.EffectCount())
}

func TestDynamic_InterruptedDelegateDoesNotCount(t *testing.T) {
	e, err := NewDynamic(cfgFor(KindDynamic, map[string]string{
		"paramIndex": "0", "paramValue": "vip", "actionType": "delay", "time": "10000",
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Enhance(ctx, invocation("svc.Price", "quote", "vip"))
	require.NoError(t, err)
	assert.Zero(t, e.EffectCount())
}

func TestDynamic_InvalidParams(t *testing.T) {
	tests := []map[string]string{
		{"paramIndex": "-1", "actionType": "1"},
		{"paramIndex": "first", "actionType": "1"},
		{"conditionType": "9", "actionType": "1"},
		{"actionType": "7"},
		{},
		{"actionType": "3", "time": "later"},
	}
	for _, params := range tests {
		_, err := NewDynamic(cfgFor(KindDynamic, params))
		assert.True(t, errors.Is(err, ErrIllegalParameter), "%v: %v", params, err)
	}
}

func TestDynamic_ObserverCountsOnce(t *testing.T) {
	obs := &recordingObserver{}
	cfg := cfgFor(KindDynamic, map[string]string{
		"paramIndex": "0", "paramValue": "vip", "actionType": "3", "time": "1",
	})
	cfg.Observer = obs
	e, err := NewDynamic(cfg)
	require.NoError(t, err)

	_, err = e.Enhance(context.Background(), invocation("svc.Price", "quote", "vip"))
	require.NoError(t, err)

	assert.Equal(t, map[string]int{KindDynamic: 1}, obs.fired)
	assert.Len(t, obs.delays, 1)
}
