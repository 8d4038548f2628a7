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

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/AleutianAI/chaosagent/services/chaosagent/response"
)

// ContentType is the content type of every command response.
const ContentType = "application/json; charset=utf-8"

// maxBodyBytes caps POST bodies.
const maxBodyBytes = 1 << 20

// Handlers contains the HTTP handlers for the agent module.
type Handlers struct {
	module *Module
}

// NewHandlers creates handlers for m.
func NewHandlers(m *Module) *Handlers {
	return &Handlers{module: m}
}

// HandleCommand handles GET|POST /<prefix>/<module-id>/:command.
//
// Description:
//
//	Reads the command parameters, dispatches the command and writes the
//	envelope. GET parameters come from the query string, the last value
//	winning for repeated keys. POST parameters come from a JSON object whose
//	values are scalars; numbers and booleans are stringified.
//
// Response:
//
//	200 OK: always; success or failure is carried in the envelope body.
func (h *Handlers) HandleCommand(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	command := c.Param("command")
	logger := slog.With("request_id", requestID, "handler", "HandleCommand", "command", command)

	params, err := readParams(c)
	if err != nil {
		logger.Warn("Invalid command parameters", "error", err)
		writeEnvelope(c, response.IllegalParameter(err.Error()), logger)
		return
	}

	resp := h.module.Dispatch(c.Request.Context(), command, params)
	writeEnvelope(c, resp, logger)
}

// readParams collects the command parameters of the request.
func readParams(c *gin.Context) (map[string]string, error) {
	if c.Request.Method != http.MethodPost {
		return queryParams(c), nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadRequestBody, err)
	}
	return parseBody(body)
}

func queryParams(c *gin.Context) map[string]string {
	query := c.Request.URL.Query()
	params := make(map[string]string, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return params
}

// parseBody binds a flat JSON object. Nulls are dropped; nested values
// and trailing data are rejected. Numbers keep their literal text.
func parseBody(body []byte) (map[string]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadRequestBody)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not a single JSON value", ErrBadRequestBody)
	}

	var raw map[string]json.RawMessage
	if err := binding.JSON.BindBody(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequestBody, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: got null", ErrBadRequestBody)
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
		case v[0] == '"':
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadRequestBody, k, err)
			}
			params[k] = str
		case v[0] == '{' || v[0] == '[':
			return nil, fmt.Errorf("%w: %q has a nested value", ErrBadRequestBody, k)
		default:
			// true, false or a number literal
			params[k] = string(v)
		}
	}
	return params, nil
}

// writeEnvelope serialises resp with HTTP 200. A serialisation failure is
// reported as a SERVER_ERROR envelope.
func writeEnvelope(c *gin.Context, resp response.Response, logger *slog.Logger) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to encode response", "error", err)
		data, _ = json.Marshal(response.ServerError("failed to encode response: " + err.Error()))
	}
	c.Data(http.StatusOK, ContentType, data)
}

// getOrCreateRequestID returns the X-Request-ID header, generating one if
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
