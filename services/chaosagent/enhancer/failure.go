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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// GenericFailureType is the type used when a requested failure type cannot
// be resolved.
const GenericFailureType = "java.lang.RuntimeException"

// Failure is the error an intercepted method fails with.
//
// Type is the failure type name reported to the application; Message is the
// constructor message, empty when the type has no message constructor.
type Failure struct {
	Type    string
	Message string

	// Requested is the type name the experiment asked for. It differs from
	// Type when resolution fell back to GenericFailureType.
	Requested string
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Type
	}
	return f.Type + ": " + f.Message
}

// Is matches ErrInjectedFailure.
func (f *Failure) Is(target error) bool {
	return target == ErrInjectedFailure
}

// Fallback reports whether the requested type could not be resolved.
func (f *Failure) Fallback() bool {
	return f.Requested != "" && f.Requested != f.Type
}

// FailureType describes one entry of the failure catalogue.
type FailureType struct {
	Name string

	// MessageConstructor reports whether the type accepts a message.
	MessageConstructor bool

	// NotThrowable marks types that exist but cannot be thrown.
	NotThrowable bool
}

var builtinFailureTypes = []FailureType{
	{Name: "java.lang.Exception", MessageConstructor: true},
	{Name: "java.lang.RuntimeException", MessageConstructor: true},
	{Name: "java.lang.IllegalStateException", MessageConstructor: true},
	{Name: "java.lang.IllegalArgumentException", MessageConstructor: true},
	{Name: "java.lang.NullPointerException", MessageConstructor: true},
	{Name: "java.lang.UnsupportedOperationException", MessageConstructor: true},
	{Name: "java.lang.OutOfMemoryError", MessageConstructor: true},
	{Name: "java.lang.StackOverflowError", MessageConstructor: true},
	{Name: "java.util.concurrent.TimeoutException", MessageConstructor: true},
	{Name: "java.util.concurrent.RejectedExecutionException", MessageConstructor: true},
	{Name: "java.io.IOException", MessageConstructor: true},
	{Name: "java.io.UncheckedIOException"},
	{Name: "java.net.SocketTimeoutException", MessageConstructor: true},
	{Name: "java.net.ConnectException", MessageConstructor: true},
	{Name: "java.sql.SQLException", MessageConstructor: true},
	{Name: "org.apache.dubbo.rpc.RpcException", MessageConstructor: true},
	{Name: "com.alibaba.dubbo.rpc.RpcException", MessageConstructor: true},
	{Name: "org.springframework.web.client.ResourceAccessException", MessageConstructor: true},
	{Name: "java.lang.String", NotThrowable: true},
	{Name: "java.lang.Object", NotThrowable: true},
	{Name: "context.DeadlineExceeded"},
	{Name: "io.EOF"},
}

// Catalogue resolves failure type names.
//
// Thread Safety: Safe for concurrent use.
type Catalogue struct {
	mu    sync.RWMutex
	types map[string]FailureType
}

// NewCatalogue creates a catalogue with the built-in types plus extra.
// Extra entries replace built-ins of the same name.
func NewCatalogue(extra ...FailureType) *Catalogue {
	c := &Catalogue{types: make(map[string]FailureType, len(builtinFailureTypes)+len(extra))}
	for _, t := range builtinFailureTypes {
		c.types[t.Name] = t
	}
	for _, t := range extra {
		c.Add(t)
	}
	return c
}

var (
	defaultCatalogueOnce sync.Once
	defaultCatalogue     *Catalogue
)

// DefaultCatalogue returns a shared catalogue holding only the built-ins.
func DefaultCatalogue() *Catalogue {
	defaultCatalogueOnce.Do(func() {
		defaultCatalogue = NewCatalogue()
	})
	return defaultCatalogue
}

// Add registers t. Blank names are ignored.
func (c *Catalogue) Add(t FailureType) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[t.Name] = t
}

// Lookup returns the entry for name.
func (c *Catalogue) Lookup(name string) (FailureType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// Names returns every catalogued type name, sorted.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.types))
	for name := range c.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the failure for the requested type name.
//
// A throwable type with a message constructor carries message; one without
// drops it. An unknown or non-throwable type resolves to a
// GenericFailureType whose message names the requested type and message.
func (c *Catalogue) Resolve(name, message string) *Failure {
	name = strings.TrimSpace(name)
	if name == "" {
		name = GenericFailureType
	}

	t, ok := c.Lookup(name)
	switch {
	case !ok:
		return &Failure{
			Type:      GenericFailureType,
			Message:   fallbackMessage("failure type not found", name, message),
			Requested: name,
		}
	case t.NotThrowable:
		return &Failure{
			Type:      GenericFailureType,
			Message:   fallbackMessage("not a failure type", name, message),
			Requested: name,
		}
	case t.MessageConstructor:
		return &Failure{Type: t.Name, Message: message, Requested: name}
	default:
		return &Failure{Type: t.Name, Requested: name}
	}
}

func fallbackMessage(reason, name, message string) string {
	if message == "" {
		return fmt.Sprintf("%s: %s", reason, name)
	}
	return fmt.Sprintf("%s: %s: %s", reason, name, message)
}
