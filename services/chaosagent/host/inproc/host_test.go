// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaosagent/services/chaosagent/host"
	"github.com/AleutianAI/chaosagent/services/chaosagent/match"
)

func returning(v any) host.Listener {
	return host.ListenerFunc(func(context.Context, *host.Event) host.Directive {
		return host.ReturnImmediately(v)
	})
}

func original(v int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return v, nil }
}

func TestHost_CallWithoutWatchesRunsOriginal(t *testing.T) {
	h := New()

	got, err := Call(context.Background(), h, Site{Class: "svc.Order", Method: "submit"}, original(7))
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestHost_ReturnImmediately(t *testing.T) {
	h := New()
	_, err := h.Watch(context.Background(), match.New("svc.Order", "submit"), returning(42))
	require.NoError(t, err)

	got, err := Call(context.Background(), h, Site{Class: "svc.Order", Method: "submit"}, original(7))
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = Call(context.Background(), h, Site{Class: "svc.Order", Method: "cancel"}, original(7))
	require.NoError(t, err)
	assert.Equal(t, 7, got, "other methods are not intercepted")
}

func TestHost_ReturnNilYieldsZeroValue(t *testing.T) {
	h := New()
	_, err := h.Watch(context.Background(), match.New("svc.Cfg", "get"), returning(nil))
	require.NoError(t, err)

	got, err := Call(context.Background(), h, Site{Class: "svc.Cfg", Method: "get"}, func(context.Context) (*string, error) {
		s := "original"
		return &s, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHost_ReturnWrongType(t *testing.T) {
	h := New()
	_, err := h.Watch(context.Background(), match.New("svc.Order", ""), returning("not an int"))
	require.NoError(t, err)

	_, err = Call(context.Background(), h, Site{Class: "svc.Order", Method: "submit"}, original(7))
	assert.ErrorIs(t, err, ErrReturnType)
}

func TestHost_ThrowImmediately(t *testing.T) {
	h := New()
	boom := errors.New("boom")
	_, err := h.Watch(context.Background(), match.New("svc.Order", ""), host.ListenerFunc(
		func(context.Context, *host.Event) host.Directive { return host.ThrowImmediately(boom) },
	))
	require.NoError(t, err)

	called := false
	_, err = h.Invoke(context.Background(), Site{Class: "svc.Order", Method: "submit"}, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called, "original body must not run")
}

func TestHost_EventCarriesSite(t *testing.T) {
	h := New()
	var seen *host.Event
	_, err := h.Watch(context.Background(), match.New("", ""), host.ListenerFunc(
		func(_ context.Context, ev *host.Event) host.Directive {
			seen = ev
			return host.Proceed()
		},
	))
	require.NoError(t, err)

	target := struct{}{}
	_, err = h.Invoke(context.Background(), Site{
		Class: "svc.Price", Method: "quote", Desc: "(Ljava/lang/String;)I",
		Target: target, Args: []any{"vip", 3}, Loader: "app",
	}, func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, host.EventBefore, seen.Type)
	assert.Equal(t, "svc.Price", seen.ClassName)
	assert.Equal(t, "quote", seen.MethodName)
	assert.Equal(t, []any{"vip", 3}, seen.Args)
	assert.Equal(t, "app", seen.Loader)
}

func TestHost_DeleteStopsInterception(t *testing.T) {
	h := New()
	handle, err := h.Watch(context.Background(), match.New("svc.Order", ""), returning(42))
	require.NoError(t, err)
	assert.Equal(t, []host.Handle{handle}, h.Handles())

	require.NoError(t, h.Delete(context.Background(), handle))
	assert.Empty(t, h.Handles())

	got, err := Call(context.Background(), h, Site{Class: "svc.Order", Method: "submit"}, original(7))
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	assert.ErrorIs(t, h.Delete(context.Background(), handle), host.ErrUnknownHandle)
}

func TestHost_WatchValidation(t *testing.T) {
	h := New()

	_, err := h.Watch(context.Background(), match.New("", ""), nil)
	assert.ErrorIs(t, err, host.ErrNilListener)

	h.Close()
	_, err = h.Watch(context.Background(), match.New("", ""), returning(1))
	assert.ErrorIs(t, err, host.ErrHostClosed)
}

func TestHost_ScanDelayHonoursContext(t *testing.T) {
	h := New(WithScanDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Watch(ctx, match.New("", ""), returning(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.Handles())
}

func TestHost_ResolveMethod(t *testing.T) {
	h := New()

	m, err := h.ResolveMethod(&host.Event{ClassName: "svc.Order", MethodName: "submit"})
	require.NoError(t, err)
	assert.Equal(t, "submit", m.Name)
	assert.True(t, m.Static)

	_, err = h.ResolveMethod(&host.Event{ClassName: "svc.Order"})
	assert.ErrorIs(t, err, host.ErrMethodNotFound)
}
