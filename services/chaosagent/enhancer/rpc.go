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
	"reflect"
)

// NewRPCConsumer is the Factory for KindRPCConsumer.
//
// Argument 0 is the invocation descriptor: getInterfaceName(),
// getMethodName() and getAttachment("timeout"). The failure message is read
// from message, then exceptionMessage.
func NewRPCConsumer(cfg Config) (Enhancer, error) {
	return newProtocol(cfg, protocolOptions{
		extract:     rpcConsumerCall,
		allowed:     []string{ActionDelay, ActionThrows},
		messageKeys: []string{"message", "exceptionMessage"},
	})
}

func rpcConsumerCall(inv *Invocation) (Call, error) {
	desc, ok := inv.Arg(0)
	if !ok || isNil(desc) {
		return Call{}, errors.New("missing invocation argument")
	}

	service, err := callOrRead(desc, "getInterfaceName")
	if err != nil {
		return Call{}, fmt.Errorf("getInterfaceName(): %w", err)
	}
	call := Call{Endpoint: stringOf(service), Timeout: DefaultProtocolTimeout}

	if m, err := callOrRead(desc, "getMethodName"); err == nil {
		call.Verb = stringOf(m)
	}
	if t, err := callMethod(desc, "getAttachment", "timeout"); err == nil {
		if ms, ok := toMillis(t); ok && ms > 0 {
			call.Timeout = millis(ms)
		}
	}
	return call, nil
}

// NewRPCProvider is the Factory for KindRPCProvider.
//
// The service interface is the target's type (a Type() method or Type
// field) and argument 1 is the method name. The timeout is always DefaultProtocolTimeout.
func NewRPCProvider(cfg Config) (Enhancer, error) {
	return newProtocol(cfg, protocolOptions{
		extract:     rpcProviderCall,
		allowed:     []string{ActionDelay, ActionThrows, ActionMock},
		messageKeys: []string{"message", "exceptionMessage"},
	})
}

func rpcProviderCall(inv *Invocation) (Call, error) {
	typ, err := callOrRead(inv.Target, "type")
	if err != nil {
		return Call{}, fmt.Errorf("type: %w", err)
	}

	call := Call{Endpoint: typeName(typ), Timeout: DefaultProtocolTimeout}
	if m, ok := inv.Arg(1); ok {
		call.Verb = stringOf(m)
	}
	return call, nil
}

// typeName renders an interface type reference. reflect.Type values use
// their qualified name; other values are asked for getName().
func typeName(v any) string {
	switch t := v.(type) {
	case reflect.Type:
		if t.PkgPath() != "" {
			return t.PkgPath() + "." + t.Name()
		}
		return t.String()
	case string:
		return t
	}
	if name, err := callMethod(v, "getName"); err == nil {
		return stringOf(name)
	}
	return stringOf(v)
}
