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
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stand-ins for the client and server objects a host hands to listeners.

type okRequest struct {
	u      string
	method string
}

func (r okRequest) URL() string    { return r.u }
func (r okRequest) Method() string { return r.method }

type okClient struct{ connect, read int }

func (c *okClient) ConnectTimeoutMillis() int { return c.connect }
func (c *okClient) ReadTimeoutMillis() int    { return c.read }

type okCall struct {
	req    okRequest
	client *okClient
}

func (c *okCall) Request() okRequest { return c.req }

type goCall struct {
	r      *http.Request
	client *http.Client
}

func (c *goCall) Request() *http.Request { return c.r }

type requestFactory struct{ connect, read time.Duration }

func (f requestFactory) GetConnectTimeout() time.Duration { return f.connect }
func (f requestFactory) GetReadTimeout() time.Duration    { return f.read }

type restTemplate struct{ factory requestFactory }

func (t *restTemplate) GetRequestFactory() requestFactory { return t.factory }

type servletRequest struct{ uri, method string }

func (r *servletRequest) GetRequestURI() string { return r.uri }
func (r *servletRequest) GetMethod() string     { return r.method }

type rpcInvocation struct {
	iface, method string
	attachments   map[string]string
}

func (i *rpcInvocation) GetInterfaceName() string { return i.iface }
func (i *rpcInvocation) GetMethodName() string    { return i.method }
func (i *rpcInvocation) GetAttachment(key string) string {
	return i.attachments[key]
}

type PriceService interface{ Quote(string) int }

type proxyInvoker struct {
	iface reflect.Type
}

func (p *proxyInvoker) Type() reflect.Type { return p.iface }

type providerInvoker struct {
	Type reflect.Type
}

// -----------------------------------------------------------------------------
// Extraction
// -----------------------------------------------------------------------------

func TestOkHttp3Call(t *testing.T) {
	inv := &Invocation{Target: &okCall{
		req:    okRequest{u: "http://api.local/orders?id=7", method: "POST"},
		client: &okClient{connect: 1000, read: 2500},
	}}

	call, err := okHTTP3Call(inv)
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/orders", call.Endpoint)
	assert.Equal(t, "POST", call.Verb)
	assert.Equal(t, 3500*time.Millisecond, call.Timeout)
}

func TestOkHttp3Call_GoRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://api.local/items?q=x#frag", nil)
	inv := &Invocation{Target: &goCall{r: r, client: &http.Client{Timeout: 2 * time.Second}}}

	call, err := okHTTP3Call(inv)
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/items", call.Endpoint)
	assert.Equal(t, "GET", call.Verb)
	assert.Equal(t, 2*time.Second, call.Timeout)
}

func TestOkHttp3Call_DefaultTimeout(t *testing.T) {
	inv := &Invocation{Target: &okCall{req: okRequest{u: "http://a/b"}, client: &okClient{}}}

	call, err := okHTTP3Call(inv)
	require.NoError(t, err)
	assert.Equal(t, DefaultProtocolTimeout, call.Timeout)

	_, err = okHTTP3Call(&Invocation{Target: nil})
	assert.ErrorIs(t, err, ErrNilReceiver)
}

func TestRestTemplateCall(t *testing.T) {
	u, _ := url.Parse("https://billing.local/invoices?page=2")
	tmpl := &restTemplate{factory: requestFactory{connect: time.Second, read: 4 * time.Second}}

	for _, arg := range []any{u, *u, u.String()} {
		call, err := restTemplateCall(&Invocation{Target: tmpl, Args: []any{arg, "GET"}})
		require.NoError(t, err)
		assert.Equal(t, "https://billing.local/invoices", call.Endpoint)
		assert.Equal(t, "GET", call.Verb)
		assert.Equal(t, 5*time.Second, call.Timeout)
	}

	call, err := restTemplateCall(&Invocation{Target: struct{}{}, Args: []any{"http://x/y"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultProtocolTimeout, call.Timeout)

	_, err = restTemplateCall(&Invocation{Args: []any{42}})
	assert.Error(t, err)
	_, err = restTemplateCall(&Invocation{})
	assert.Error(t, err)
}

func TestHTTPServerCall(t *testing.T) {
	r := httptest.NewRequest(http.MethodDelete, "/orders/7?force=true", nil)
	call, err := httpServerCall(&Invocation{Args: []any{httptest.NewRecorder(), r}})
	require.NoError(t, err)
	assert.Equal(t, "/orders/7", call.Endpoint)
	assert.Equal(t, "DELETE", call.Verb)

	call, err = httpServerCall(&Invocation{Args: []any{&servletRequest{uri: "/legacy?x=1", method: "PUT"}}})
	require.NoError(t, err)
	assert.Equal(t, "/legacy", call.Endpoint)
	assert.Equal(t, "PUT", call.Verb)

	_, err = httpServerCall(&Invocation{Args: []any{"not a request"}})
	assert.ErrorIs(t, err, ErrNoSuchMember)
}

func TestRPCConsumerCall(t *testing.T) {
	desc := &rpcInvocation{iface: "svc.PriceService", method: "quote", attachments: map[string]string{"timeout": "1200"}}

	call, err := rpcConsumerCall(&Invocation{Args: []any{desc}})
	require.NoError(t, err)
	assert.Equal(t, "svc.PriceService", call.Endpoint)
	assert.Equal(t, "quote", call.Verb)
	assert.Equal(t, 1200*time.Millisecond, call.Timeout)

	desc.attachments = nil
	call, err = rpcConsumerCall(&Invocation{Args: []any{desc}})
	require.NoError(t, err)
	assert.Equal(t, DefaultProtocolTimeout, call.Timeout)
}

func TestRPCProviderCall(t *testing.T) {
	iface := reflect.TypeFor[PriceService]()

	call, err := rpcProviderCall(&Invocation{
		Target: &proxyInvoker{iface: iface},
		Args:   []any{nil, "Quote", nil, nil},
	})
	require.NoError(t, err)
	assert.Contains(t, call.Endpoint, "PriceService")
	assert.Equal(t, "Quote", call.Verb)
	assert.Equal(t, DefaultProtocolTimeout, call.Timeout)

	call, err = rpcProviderCall(&Invocation{Target: providerInvoker{Type: iface}})
	require.NoError(t, err)
	assert.Contains(t, call.Endpoint, "PriceService")
}

// -----------------------------------------------------------------------------
// Actions
// -----------------------------------------------------------------------------

func TestProtocol_ActionValidation(t *testing.T) {
	tests := []struct {
		kind    string
		factory Factory
		action  string
		ok      bool
	}{
		{KindOkHttp3, NewOkHttp3, "delay", true},
		{KindOkHttp3, NewOkHttp3, "throws", true},
		{KindOkHttp3, NewOkHttp3, "mock", false},
		{KindRestTemplate, NewRestTemplate, "mock", false},
		{KindHTTPServer, NewHTTPServer, "mock", true},
		{KindRPCConsumer, NewRPCConsumer, "mock", false},
		{KindRPCProvider, NewRPCProvider, "mock", true},
		{KindRPCProvider, NewRPCProvider, "explode", false},
		{KindHTTPServer, NewHTTPServer, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.action, func(t *testing.T) {
			_, err := tt.factory(cfgFor(tt.kind, map[string]string{"action": tt.action}))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrIllegalParameter)
			assert.ErrorIs(t, err, ErrUnsupportedAction)
		})
	}
}

func TestProtocol_EmptyActionIsNoop(t *testing.T) {
	e, err := NewHTTPServer(cfgFor(KindHTTPServer, nil))
	require.NoError(t, err)

	out, err := e.Enhance(context.Background(), &Invocation{Args: []any{httptest.NewRequest("GET", "/", nil)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
	assert.Zero(t, e.EffectCount())
}

func TestProtocol_ExtractionFailureIsNoop(t *testing.T) {
	e, err := NewRPCConsumer(cfgFor(KindRPCConsumer, map[string]string{"action": "throws"}))
	require.NoError(t, err)

	out, err := e.Enhance(context.Background(), &Invocation{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
	assert.Zero(t, e.EffectCount())
}

func TestProtocol_Throws(t *testing.T) {
	e, err := NewRPCConsumer(cfgFor(KindRPCConsumer, map[string]string{
		"action":           "throws",
		"exception":        "org.apache.dubbo.rpc.RpcException",
		"exceptionMessage": "provider unavailable",
	}))
	require.NoError(t, err)

	desc := &rpcInvocation{iface: "svc.PriceService", method: "quote"}
	out, err := e.Enhance(context.Background(), &Invocation{Args: []any{desc}})
	require.NoError(t, err)
	require.Equal(t, OutcomeThrow, out.Kind)
	assert.Equal(t, "org.apache.dubbo.rpc.RpcException", out.Failure.Type)
	assert.Equal(t, "provider unavailable", out.Failure.Message)
	assert.Equal(t, int64(1), e.EffectCount())
}

func TestProtocol_Mock(t *testing.T) {
	e, err := NewRPCProvider(cfgFor(KindRPCProvider, map[string]string{
		"action": "mock", "returnValue": "17", "type": "int",
	}))
	require.NoError(t, err)

	inv := &Invocation{Target: &proxyInvoker{iface: reflect.TypeFor[PriceService]()}, Args: []any{nil, "Quote"}}
	out, err := e.Enhance(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReturn, out.Kind)
	assert.Equal(t, 17, out.Value)
	v, set := inv.ReturnValue()
	assert.True(t, set)
	assert.Equal(t, 17, v)
}

func TestProtocol_DelayUsesTimeWhenGiven(t *testing.T) {
	e, err := NewHTTPServer(cfgFor(KindHTTPServer, map[string]string{"action": "delay", "time": "20"}))
	require.NoError(t, err)

	start := time.Now()
	out, err := e.Enhance(context.Background(), &Invocation{Args: []any{httptest.NewRequest("GET", "/slow", nil)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), e.EffectCount())
}

func TestProtocol_DelayDefaultsToCallTimeout(t *testing.T) {
	e, err := NewOkHttp3(cfgFor(KindOkHttp3, map[string]string{"action": "delay"}))
	require.NoError(t, err)

	inv := &Invocation{Target: &okCall{req: okRequest{u: "http://a/b"}, client: &okClient{connect: 10, read: 15}}}
	start := time.Now()
	_, err = e.Enhance(context.Background(), inv)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
