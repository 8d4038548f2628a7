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
	"strconv"
	"strings"
	"time"
	"unicode"
	"unsafe"
)

// callMethod invokes a method on v by name.
//
// Go exports only capitalised identifiers, so a getter written as
// "getRequestURI" is looked up as GetRequestURI and RequestURI as well as
// the literal name. Arguments are converted to the parameter types when
// possible. A method whose last result is an error reports that error.
func callMethod(v any, name string, args ...any) (any, error) {
	if isNil(v) {
		return nil, fmt.Errorf("%w: %s()", ErrNilReceiver, name)
	}

	rv := reflect.ValueOf(v)
	for _, candidate := range memberNames(name) {
		m := rv.MethodByName(candidate)
		if !m.IsValid() {
			continue
		}
		in, ok := convertArgs(m.Type(), args)
		if !ok {
			continue
		}
		return invoke(m, in)
	}
	return nil, fmt.Errorf("%w: %T.%s()", ErrNoSuchMember, v, name)
}

func invoke(m reflect.Value, in []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method panicked: %v", r)
		}
	}()

	out := m.Call(in)
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(errorType) {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		out = out[:len(out)-1]
		if len(out) == 0 {
			return nil, nil
		}
	}
	return out[0].Interface(), nil
}

var errorType = reflect.TypeFor[error]()

func convertArgs(mt reflect.Type, args []any) ([]reflect.Value, bool) {
	if mt.IsVariadic() || mt.NumIn() != len(args) {
		return nil, false
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		want := mt.In(i)
		av := reflect.ValueOf(a)
		switch {
		case !av.IsValid():
			av = reflect.Zero(want)
		case av.Type().AssignableTo(want):
		case av.Type().ConvertibleTo(want):
			av = av.Convert(want)
		default:
			return nil, false
		}
		in[i] = av
	}
	return in, true
}

// readField reads a named field of a struct (or pointer to one), including
// unexported fields. Maps keyed by string are read by key.
func readField(v any, name string) (any, error) {
	if isNil(v) {
		return nil, fmt.Errorf("%w: field %s", ErrNilReceiver, name)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: field %s", ErrNilReceiver, name)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		for _, candidate := range memberNames(name) {
			mv := rv.MapIndex(reflect.ValueOf(candidate).Convert(rv.Type().Key()))
			if mv.IsValid() {
				return mv.Interface(), nil
			}
		}
	case reflect.Struct:
		if !rv.CanAddr() {
			tmp := reflect.New(rv.Type()).Elem()
			tmp.Set(rv)
			rv = tmp
		}
		for _, candidate := range memberNames(name) {
			f := rv.FieldByName(candidate)
			if !f.IsValid() {
				continue
			}
			if !f.CanInterface() {
				f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
			}
			return f.Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: %T.%s", ErrNoSuchMember, v, name)
}

// callOrRead tries a method first and falls back to a field of the same name.
func callOrRead(v any, name string) (any, error) {
	out, err := callMethod(v, name)
	if err == nil || !errors.Is(err, ErrNoSuchMember) {
		return out, err
	}
	field := name
	if rest, ok := strings.CutPrefix(name, "get"); ok && rest != "" {
		field = lowerFirst(rest)
	}
	return readField(v, field)
}

// memberNames lists the spellings tried for name: the literal name, its
// capitalised form, an upper-case form for short names such as "url", a
// Get-prefixed form and, for "getX", plain X.
func memberNames(name string) []string {
	out := []string{name}
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}

	add(capitalise(name))
	if len(name) <= 4 {
		add(strings.ToUpper(name))
	}
	if rest, ok := strings.CutPrefix(name, "get"); ok && rest != "" {
		add(capitalise(rest))
		add(lowerFirst(rest))
	} else {
		add("Get" + capitalise(name))
	}
	return out
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// toMillis converts a reflected timeout to milliseconds. Durations are
// converted; plain numbers and numeric strings are taken as milliseconds.
func toMillis(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case time.Duration:
		return x.Milliseconds(), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), true
	}

	if s, ok := v.(fmt.Stringer); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// stringOf renders a reflected value as text; nil becomes "".
func stringOf(v any) string {
	if isNil(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
