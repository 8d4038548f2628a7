// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
)

func newEnhancer(t *testing.T, id string) enhancer.Enhancer {
	t.Helper()
	e, err := enhancer.NewThrows(enhancer.Config{ID: id, Kind: enhancer.KindThrows})
	require.NoError(t, err)
	return e
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		require.Len(t, id, IDLength)
		_, err := hex.DecodeString(id)
		require.NoError(t, err, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()

	_, err := r.Put(newEnhancer(t, "aaaa0001"))
	require.NoError(t, err)

	e, ok := r.Get("aaaa0001")
	require.True(t, ok)
	assert.Equal(t, "aaaa0001", e.ID())
	assert.False(t, e.CreatedAt.IsZero())

	removed, err := r.Remove("aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, "aaaa0001", removed.ID())

	_, ok = r.Get("aaaa0001")
	assert.False(t, ok)

	_, err = r.Remove("aaaa0001")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Put(nil)
	assert.ErrorIs(t, err, ErrNilEnhancer)
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(10-tick) * time.Second)
	}

	for _, id := range []string{"cccc0003", "bbbb0002", "aaaa0001"} {
		_, err := r.Put(newEnhancer(t, id))
		require.NoError(t, err)
	}

	var ids []string
	for _, e := range r.Snapshot() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"aaaa0001", "bbbb0002", "cccc0003"}, ids)
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	for i := range 3 {
		_, err := r.Put(newEnhancer(t, fmt.Sprintf("0000000%d", i)))
		require.NoError(t, err)
	}

	removed := r.Clear()
	assert.Len(t, removed, 3)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	enhancers := make([]enhancer.Enhancer, 50)
	for i := range enhancers {
		enhancers[i] = newEnhancer(t, fmt.Sprintf("%08x", i))
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := enhancers[i].ID()
			_, _ = r.Put(enhancers[i])
			_, _ = r.Get(id)
			_ = r.Snapshot()
			if i%2 == 0 {
				_, _ = r.Remove(id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
}
