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

import "context"

// Defaults for the throws enhancer.
const (
	DefaultFailureType    = GenericFailureType
	DefaultFailureMessage = "Chaos injected exception"
)

// throwSpec is a requested failure type and message. Resolution against the
// catalogue happens at firing time, so unknown names are accepted at
// creation and fall back to a generic failure.
type throwSpec struct {
	exception string
	message   string
}

func parseThrowSpec(params map[string]string, messageKeys ...string) throwSpec {
	if len(messageKeys) == 0 {
		messageKeys = []string{"message"}
	}
	spec := throwSpec{
		exception: firstParam(params, "exception"),
		message:   firstParam(params, messageKeys...),
	}
	if spec.exception == "" {
		spec.exception = DefaultFailureType
	}
	if spec.message == "" {
		spec.message = DefaultFailureMessage
	}
	return spec
}

func (s throwSpec) resolve(c *Catalogue) *Failure {
	return c.Resolve(s.exception, s.message)
}

// Throws makes the intercepted invocation fail.
//
// Parameters: exception (failure type name) and message.
type Throws struct {
	Base
	spec throwSpec
}

// NewThrows is the Factory for KindThrows.
func NewThrows(cfg Config) (Enhancer, error) {
	t := &Throws{spec: parseThrowSpec(cfg.Params)}
	t.init(cfg)
	return t, nil
}

// Enhance counts the effect and returns a Throw outcome.
func (t *Throws) Enhance(_ context.Context, inv *Invocation) (Outcome, error) {
	f := t.spec.resolve(t.catalogue)
	if f.Fallback() {
		t.logger.Warn("failure type not resolvable, using generic failure",
			"requested", f.Requested, "type", f.Type)
	}

	t.logger.Info("injecting failure",
		"type", f.Type,
		"message", f.Message,
		"class", inv.ClassName,
		"method", inv.MethodName,
	)

	t.increment()
	return Throw(f), nil
}

// Describe echoes exception and message.
func (t *Throws) Describe() map[string]any {
	return t.echo("exception", "message")
}
