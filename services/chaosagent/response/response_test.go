// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package response

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Success(t *testing.T) {
	data, err := json.Marshal(OK(map[string]any{"experimentId": "abcd1234"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"success":true,"result":{"experimentId":"abcd1234"}}`, string(data))
}

func TestMarshal_SuccessAlwaysCarriesResult(t *testing.T) {
	data, err := json.Marshal(OK(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"success":true,"result":""}`, string(data))

	data, err = json.Marshal(Response{Code: CodeOK, Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"success":true,"result":""}`, string(data))
}

func TestMarshal_Failure(t *testing.T) {
	data, err := json.Marshal(NotFound("experiment not found: abcd1234"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":404,"success":false,"error":"experiment not found: abcd1234"}`, string(data))
}

func TestFail_NeverEmpty(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeIllegalParameter, "ILLEGAL_PARAMETER"},
		{CodeNotFound, "NOT_FOUND"},
		{CodeServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r := Fail(tt.code, "  ")
			assert.False(t, r.Success)
			assert.Equal(t, tt.want, r.Error)
		})
	}
}

func TestFailf(t *testing.T) {
	r := Failf(CodeIllegalParameter, "Unknown target/action: %s/%s", "foo", "bar")
	assert.Equal(t, CodeIllegalParameter, r.Code)
	assert.Equal(t, "Unknown target/action: foo/bar", r.Error)
}

func TestDecode_FlattensNestedObject(t *testing.T) {
	payload := `{"code":200,"success":true,"result":{"code":200,"success":true,"result":{"experimentId":"x1","status":"created"}}}`

	r, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, map[string]any{"experimentId": "x1", "status": "created"}, r.Result)
}

func TestDecode_FlattensNestedString(t *testing.T) {
	inner := `{"code":200,"success":true,"result":{"experimentId":"x1","status":"destroyed"}}`
	outer, err := json.Marshal(OK(inner))
	require.NoError(t, err)

	r, err := Decode(outer)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"experimentId": "x1", "status": "destroyed"}, r.Result)
}

func TestDecode_InnerFailureWins(t *testing.T) {
	payload := `{"code":200,"success":true,"result":{"code":404,"success":false,"error":"gone"}}`

	r, err := Decode([]byte(payload))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, CodeNotFound, r.Code)
	assert.Equal(t, "gone", r.Error)
}

func TestDecode_InnerFailureWithoutMessage(t *testing.T) {
	r, err := Decode([]byte(`{"code":200,"success":true,"result":{"code":500,"success":false}}`))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, CodeServerError, r.Code)
	assert.Equal(t, "SERVER_ERROR", r.Error)

	r, err = Decode([]byte(`{"code":404,"success":false}`))
	require.NoError(t, err)
	assert.Equal(t, "NOT_FOUND", r.Error)
}

func TestDecode_PlainResultsUntouched(t *testing.T) {
	r, err := Decode([]byte(`{"code":200,"success":true,"result":"{not json"}`))
	require.NoError(t, err)
	assert.Equal(t, "{not json", r.Result)

	r, err = Decode([]byte(`{"code":200,"success":true,"result":[{"uid":"a"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"uid": "a"}}, r.Result)
}

func TestDecode_NotEnvelope(t *testing.T) {
	_, err := Decode([]byte(`{"hello":"world"}`))
	assert.ErrorIs(t, err, ErrNotEnvelope)
}

func TestFlatten_ResponseValues(t *testing.T) {
	inner := OK("pong")
	outer := OK(&inner)

	assert.Equal(t, "pong", Flatten(outer).Result)
	assert.Equal(t, "pong", Flatten(OK(OK(OK("pong")))).Result)
}
