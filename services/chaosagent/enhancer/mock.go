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
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// mockSpec is a parsed forged return value.
type mockSpec struct {
	raw       string
	valueType string
	value     any
}

// parseMockSpec reads value (or returnValue) and type. An absent value or
// type "null" forges nil. A value that does not parse as the requested
// type is kept as the raw string.
func parseMockSpec(params map[string]string, logger *slog.Logger) mockSpec {
	raw, present := params["value"]
	if !present {
		raw, present = params["returnValue"]
	}

	spec := mockSpec{raw: raw, valueType: strings.ToLower(strings.TrimSpace(params["type"]))}
	if spec.valueType == "" {
		spec.valueType = "string"
	}
	if !present || spec.valueType == "null" {
		spec.value = nil
		return spec
	}

	var err error
	switch spec.valueType {
	case "string":
		spec.value = raw
	case "int", "integer":
		var n int64
		n, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
		spec.value = int(n)
	case "long":
		spec.value, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case "boolean", "bool":
		spec.value = strings.EqualFold(strings.TrimSpace(raw), "true")
	case "double":
		spec.value, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case "float":
		var f float64
		f, err = strconv.ParseFloat(strings.TrimSpace(raw), 32)
		spec.value = float32(f)
	default:
		logger.Warn("unknown mock value type, using string", "type", spec.valueType)
		spec.value = raw
	}
	if err != nil {
		logger.Warn("mock value does not parse, using raw string",
			"value", raw, "type", spec.valueType, "error", err)
		spec.value = raw
	}
	return spec
}

// Mock forges the return value of the intercepted invocation.
//
// Parameters: value (or returnValue) and type.
type Mock struct {
	Base
	spec mockSpec
}

// NewMock is the Factory for KindMock.
func NewMock(cfg Config) (Enhancer, error) {
	m := &Mock{}
	m.init(cfg)
	m.spec = parseMockSpec(cfg.Params, m.logger)
	return m, nil
}

// Enhance fills the mock slot and returns a ReturnValue outcome.
func (m *Mock) Enhance(_ context.Context, inv *Invocation) (Outcome, error) {
	inv.SetReturnValue(m.spec.value)

	m.logger.Info("forging return value",
		"value", m.spec.value,
		"type", m.spec.valueType,
		"class", inv.ClassName,
		"method", inv.MethodName,
	)

	m.increment()
	return ReturnValue(m.spec.value), nil
}

// Describe echoes value and type.
func (m *Mock) Describe() map[string]any {
	return m.echo("value", "returnValue", "type")
}
