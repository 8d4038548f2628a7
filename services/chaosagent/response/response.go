// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package response defines the envelope returned by every agent command.
//
// # Wire Format
//
// Success:
//
//	{"code": 200, "success": true, "result": <string or object>}
//
// Failure:
//
//	{"code": 400, "success": false, "error": "Missing required parameter: target"}
//
// The HTTP status is always 200; success is carried in the body.
//
// # Nested Envelopes
//
// A result may itself be envelope-shaped, either as an object or as a JSON
// string. Consumers call Flatten (or Decode) to reach the innermost result.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code is the envelope status code.
type Code int

const (
	CodeOK               Code = 200
	CodeIllegalParameter Code = 400
	CodeNotFound         Code = 404
	CodeServerError      Code = 500
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeIllegalParameter:
		return "ILLEGAL_PARAMETER"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// ErrNotEnvelope is returned by Decode when the payload is not an envelope.
var ErrNotEnvelope = errors.New("payload is not a response envelope")

// Response is the command envelope.
type Response struct {
	Code    Code
	Success bool
	Result  any
	Error   string
}

// OK wraps a successful result. A nil result is encoded as an empty string
// so that a successful envelope always carries a result.
func OK(result any) Response {
	if result == nil {
		result = ""
	}
	return Response{Code: CodeOK, Success: true, Result: result}
}

// Fail builds a failure envelope. An empty message is replaced by the code
// name.
func Fail(code Code, msg string) Response {
	if strings.TrimSpace(msg) == "" {
		msg = code.String()
	}
	return Response{Code: code, Success: false, Error: msg}
}

// Failf builds a failure envelope with a formatted message.
func Failf(code Code, format string, args ...any) Response {
	return Fail(code, fmt.Sprintf(format, args...))
}

// IllegalParameter is shorthand for Fail(CodeIllegalParameter, msg).
func IllegalParameter(msg string) Response { return Fail(CodeIllegalParameter, msg) }

// NotFound is shorthand for Fail(CodeNotFound, msg).
func NotFound(msg string) Response { return Fail(CodeNotFound, msg) }

// ServerError is shorthand for Fail(CodeServerError, msg).
func ServerError(msg string) Response { return Fail(CodeServerError, msg) }

type successWire struct {
	Code    Code `json:"code"`
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

type failureWire struct {
	Code    Code   `json:"code"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// MarshalJSON emits result on success and error on failure, never both.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Success {
		result := r.Result
		if result == nil {
			result = ""
		}
		return json.Marshal(successWire{Code: r.Code, Success: true, Result: result})
	}
	return json.Marshal(failureWire{Code: r.Code, Success: false, Error: r.Error})
}

type inboundWire struct {
	Code    *Code           `json:"code"`
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// UnmarshalJSON decodes an envelope without flattening.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Code == nil || w.Success == nil {
		return ErrNotEnvelope
	}
	r.Code = *w.Code
	r.Success = *w.Success
	r.Error = w.Error
	r.Result = nil
	if len(w.Result) > 0 {
		var v any
		if err := json.Unmarshal(w.Result, &v); err != nil {
			return err
		}
		r.Result = v
	}
	return nil
}

// Decode parses an envelope and flattens nested envelopes.
func Decode(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, err
	}
	return Flatten(r), nil
}

// Flatten replaces an envelope-shaped result with the inner result,
// repeatedly. An inner failure turns the outer envelope into that failure,
// named by its code when it carries no message.
func Flatten(r Response) Response {
	for r.Success {
		inner, ok := asEnvelope(r.Result)
		if !ok {
			break
		}
		r = inner
	}
	if !r.Success {
		return Fail(r.Code, r.Error)
	}
	return r
}

// asEnvelope recognises Response values, envelope-shaped maps and JSON
// strings that encode an envelope.
func asEnvelope(v any) (Response, bool) {
	switch x := v.(type) {
	case Response:
		return x, true
	case *Response:
		if x == nil {
			return Response{}, false
		}
		return *x, true
	case map[string]any:
		return fromMap(x)
	case string:
		s := strings.TrimSpace(x)
		if !strings.HasPrefix(s, "{") {
			return Response{}, false
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return Response{}, false
		}
		return fromMap(m)
	}
	return Response{}, false
}

func fromMap(m map[string]any) (Response, bool) {
	rawCode, hasCode := m["code"]
	rawSuccess, hasSuccess := m["success"]
	if !hasCode || !hasSuccess {
		return Response{}, false
	}
	success, ok := rawSuccess.(bool)
	if !ok {
		return Response{}, false
	}

	var code Code
	switch c := rawCode.(type) {
	case float64:
		code = Code(int(c))
	case int:
		code = Code(c)
	case Code:
		code = c
	case json.Number:
		n, err := c.Int64()
		if err != nil {
			return Response{}, false
		}
		code = Code(n)
	default:
		return Response{}, false
	}

	r := Response{Code: code, Success: success, Result: m["result"]}
	if e, ok := m["error"].(string); ok {
		r.Error = e
	}
	return r, true
}
