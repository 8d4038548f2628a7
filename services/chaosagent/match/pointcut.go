// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match decides whether an intercepted class and method belong to an
// experiment.
//
// # Matching Rules
//
// A Pointcut pairs a class pattern with a method pattern:
//
//   - Class: empty matches everything. Otherwise the pattern matches when it
//     equals the candidate, equals it after '.' is replaced by '/', or is a
//     substring of the candidate in either spelling.
//   - Method: empty matches everything. Otherwise only exact equality matches.
//
// Hosts report class names either dotted ("svc.Order") or slashed
// ("svc/Order") depending on which event path fired, so both spellings are
// accepted.
//
// # Substring Hazard
//
// The substring rule lets an operator type "OrderService" without the
// package path, but it also matches every class whose name merely contains
// the pattern: "Order" matches "svc.OrderService", "svc.BackOrder" and
// "svc.Orders". Operators should prefer fully qualified class names.
//
// # Thread Safety
//
// Pointcut is immutable after construction and safe for concurrent use.
package match

import (
	"fmt"
	"strings"
)

// Pointcut selects intercepted methods by class and method pattern.
type Pointcut struct {
	class  string
	method string

	// internalClass is class with '.' replaced by '/'.
	internalClass string
}

// New creates a Pointcut. Surrounding whitespace is trimmed from both
// patterns.
func New(class, method string) *Pointcut {
	class = strings.TrimSpace(class)
	method = strings.TrimSpace(method)
	return &Pointcut{
		class:         class,
		method:        method,
		internalClass: strings.ReplaceAll(class, ".", "/"),
	}
}

// Class returns the class pattern.
func (p *Pointcut) Class() string {
	if p == nil {
		return ""
	}
	return p.class
}

// Method returns the method pattern.
func (p *Pointcut) Method() string {
	if p == nil {
		return ""
	}
	return p.method
}

// IsWildcard reports whether both patterns are empty.
func (p *Pointcut) IsWildcard() bool {
	return p == nil || (p.class == "" && p.method == "")
}

// MatchClass reports whether name satisfies the class pattern.
func (p *Pointcut) MatchClass(name string) bool {
	if p == nil || p.class == "" {
		return true
	}
	if p.class == name || p.internalClass == name {
		return true
	}
	return strings.Contains(name, p.class) || strings.Contains(name, p.internalClass)
}

// MatchMethod reports whether name satisfies the method pattern.
func (p *Pointcut) MatchMethod(name string) bool {
	if p == nil || p.method == "" {
		return true
	}
	return p.method == name
}

// Match reports whether both the class and the method patterns are satisfied.
func (p *Pointcut) Match(class, method string) bool {
	return p.MatchClass(class) && p.MatchMethod(method)
}

// String returns a compact representation for logs.
func (p *Pointcut) String() string {
	if p == nil {
		return "Pointcut{<nil>}"
	}
	return fmt.Sprintf("Pointcut{class=%q, method=%q}", p.class, p.method)
}
