// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment holds the live experiments of a module.
//
// An experiment id is the first eight hex digits of a random UUID. Ids are
// not checked for collisions; with 32 random bits the chance of a clash
// among a few thousand live experiments is negligible.
package experiment

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
)

// IDLength is the number of hex digits in an experiment id.
const IDLength = 8

var (
	// ErrNotFound is returned when no experiment has the requested id.
	ErrNotFound = errors.New("experiment not found")

	// ErrNilEnhancer is returned by Put for a nil enhancer.
	ErrNilEnhancer = errors.New("enhancer must not be nil")
)

// NewID returns a fresh experiment id.
func NewID() string {
	return uuid.NewString()[:IDLength]
}

// Entry is one live experiment.
type Entry struct {
	Enhancer  enhancer.Enhancer
	CreatedAt time.Time
}

// ID returns the experiment id.
func (e Entry) ID() string { return e.Enhancer.ID() }

// Registry maps experiment ids to their enhancers.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Put stores e under its id, replacing any previous entry.
func (r *Registry) Put(e enhancer.Enhancer) (Entry, error) {
	if e == nil {
		return Entry{}, ErrNilEnhancer
	}

	entry := Entry{Enhancer: e, CreatedAt: r.now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID()] = entry
	return entry, nil
}

// Get returns the experiment with the given id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e, ok
}

// Remove deletes and returns the experiment with the given id.
func (r *Registry) Remove(id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	return e, nil
}

// Snapshot returns every experiment ordered by creation time, then id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Len returns the number of live experiments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every experiment and returns the removed entries.
func (r *Registry) Clear() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	clear(r.entries)
	return out
}
