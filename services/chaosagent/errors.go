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

import "errors"

// Sentinel errors for the agent module.
var (
	// ErrInvalidPhase indicates a lifecycle call made in the wrong phase,
	// e.g. Activate before Load.
	ErrInvalidPhase = errors.New("invalid module phase")

	// ErrNilHost indicates Load was called without an interception host.
	ErrNilHost = errors.New("interception host must not be nil")

	// ErrNotActive indicates a command dispatched before Activate.
	ErrNotActive = errors.New("module not active")

	// ErrUnknownCommand indicates a command name with no handler.
	ErrUnknownCommand = errors.New("command not found")

	// ErrMissingParameter indicates a required command parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrIllegalParameter indicates a command parameter that cannot be used.
	ErrIllegalParameter = errors.New("illegal parameter")

	// ErrBadRequestBody indicates a POST body that is not a flat JSON object.
	ErrBadRequestBody = errors.New("request body must be a JSON object of scalar values")
)
