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
	"net/url"
	"time"
)

// -----------------------------------------------------------------------------
// OkHttp3
// -----------------------------------------------------------------------------

// NewOkHttp3 is the Factory for KindOkHttp3.
//
// The target is the call object. Its request() yields url() and method();
// the timeout is client.connectTimeoutMillis() + client.readTimeoutMillis().
// A Go *http.Request or *http.Client found along the way is read directly.
func NewOkHttp3(cfg Config) (Enhancer, error) {
	return newProtocol(cfg, protocolOptions{
		extract: okHTTP3Call,
		allowed: []string{ActionDelay, ActionThrows},
	})
}

func okHTTP3Call(inv *Invocation) (Call, error) {
	req, err := callOrRead(inv.Target, "request")
	if err != nil {
		return Call{}, fmt.Errorf("request(): %w", err)
	}

	var call Call
	if r, ok := req.(*http.Request); ok && r != nil {
		call.Verb = r.Method
		if r.URL != nil {
			call.Endpoint = stripQuery(r.URL.String())
		}
	} else {
		u, err := callOrRead(req, "url")
		if err != nil {
			return Call{}, fmt.Errorf("url(): %w", err)
		}
		call.Endpoint = stripQuery(stringOf(u))
		if m, err := callOrRead(req, "method"); err == nil {
			call.Verb = stringOf(m)
		}
	}
	if call.Endpoint == "" {
		return Call{}, errors.New("request has no url")
	}

	call.Timeout = okHTTP3Timeout(inv.Target)
	return call, nil
}

func okHTTP3Timeout(target any) time.Duration {
	client, err := readField(target, "client")
	if err != nil {
		return DefaultProtocolTimeout
	}
	if c, ok := client.(*http.Client); ok && c != nil {
		if c.Timeout > 0 {
			return c.Timeout
		}
		return DefaultProtocolTimeout
	}
	return millis(sumMillis(client, "connectTimeoutMillis", "readTimeoutMillis"))
}

// -----------------------------------------------------------------------------
// RestTemplate
// -----------------------------------------------------------------------------

// NewRestTemplate is the Factory for KindRestTemplate.
//
// Argument 0 is the request URI and argument 1 the HTTP method. The timeout
// is getRequestFactory().getConnectTimeout() + getReadTimeout().
func NewRestTemplate(cfg Config) (Enhancer, error) {
	return newProtocol(cfg, protocolOptions{
		extract: restTemplateCall,
		allowed: []string{ActionDelay, ActionThrows},
	})
}

func restTemplateCall(inv *Invocation) (Call, error) {
	arg, ok := inv.Arg(0)
	if !ok || isNil(arg) {
		return Call{}, errors.New("missing request uri argument")
	}

	var endpoint string
	switch u := arg.(type) {
	case *url.URL:
		endpoint = u.String()
	case url.URL:
		endpoint = u.String()
	case string:
		endpoint = u
	case fmt.Stringer:
		endpoint = u.String()
	default:
		return Call{}, fmt.Errorf("argument 0 is %T, not a uri", arg)
	}

	call := Call{Endpoint: stripQuery(endpoint), Timeout: restTemplateTimeout(inv.Target)}
	if m, ok := inv.Arg(1); ok {
		call.Verb = stringOf(m)
	}
	return call, nil
}

func restTemplateTimeout(target any) time.Duration {
	factory, err := callOrRead(target, "getRequestFactory")
	if err != nil || isNil(factory) {
		return DefaultProtocolTimeout
	}
	return millis(sumMillis(factory, "getConnectTimeout", "getReadTimeout"))
}

// sumMillis adds the millisecond values returned by the named getters.
// Getters that are missing or unreadable count as zero.
func sumMillis(v any, getters ...string) int64 {
	var total int64
	for _, g := range getters {
		out, err := callOrRead(v, g)
		if err != nil {
			continue
		}
		if ms, ok := toMillis(out); ok {
			total += ms
		}
	}
	return total
}
