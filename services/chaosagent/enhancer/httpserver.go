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
	"errors"
	"fmt"
	"net/http"
)

// NewHTTPServer is the Factory for KindHTTPServer.
//
// The request is the first *http.Request argument, which covers
// ServeHTTP(w, r) and gin-style handlers wrapping it. Other request objects
// in argument 0 are read through getRequestURI() and getMethod().
func NewHTTPServer(cfg Config) (Enhancer, error) {
	return newProtocol(cfg, protocolOptions{
		extract: httpServerCall,
		allowed: []string{ActionDelay, ActionThrows, ActionMock},
	})
}

func httpServerCall(inv *Invocation) (Call, error) {
	for _, a := range inv.Args {
		if r, ok := a.(*http.Request); ok && r != nil {
			uri := r.RequestURI
			if r.URL != nil {
				uri = r.URL.RequestURI()
			}
			return Call{
				Endpoint: stripQuery(uri),
				Verb:     r.Method,
				Timeout:  DefaultProtocolTimeout,
			}, nil
		}
	}

	req, ok := inv.Arg(0)
	if !ok || isNil(req) {
		return Call{}, errors.New("missing request argument")
	}
	uri, err := callOrRead(req, "getRequestURI")
	if err != nil {
		return Call{}, fmt.Errorf("getRequestURI(): %w", err)
	}

	call := Call{Endpoint: stripQuery(stringOf(uri)), Timeout: DefaultProtocolTimeout}
	if m, err := callOrRead(req, "getMethod"); err == nil {
		call.Verb = stringOf(m)
	}
	return call, nil
}
