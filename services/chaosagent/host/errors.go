// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import "errors"

var (
	// ErrUnknownHandle is returned by Delete for a handle that is not installed.
	ErrUnknownHandle = errors.New("unknown watch handle")

	// ErrMethodNotFound is returned by ResolveMethod when the event's method
	// cannot be resolved.
	ErrMethodNotFound = errors.New("method not found")

	// ErrNilListener is returned by Watch when no listener is supplied.
	ErrNilListener = errors.New("listener must not be nil")

	// ErrHostClosed is returned once the host stopped accepting watches.
	ErrHostClosed = errors.New("host closed")
)
