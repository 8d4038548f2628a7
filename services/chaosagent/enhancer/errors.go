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

import "errors"

var (
	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("unknown enhancer kind")

	// ErrIllegalParameter is returned when an enhancer parameter cannot be
	// parsed or is out of range.
	ErrIllegalParameter = errors.New("illegal enhancer parameter")

	// ErrUnsupportedAction is returned when a protocol enhancer is asked for
	// an action it does not implement.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("factory must not be nil")

	// ErrNoSuchMember is returned by reflective lookups when the method or
	// field does not exist.
	ErrNoSuchMember = errors.New("no such member")

	// ErrNilReceiver is returned by reflective lookups on nil values.
	ErrNilReceiver = errors.New("nil receiver")

	// ErrInjectedFailure matches every *Failure with errors.Is.
	ErrInjectedFailure = errors.New("injected failure")
)
