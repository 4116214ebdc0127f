// Package payload gives typed, error-reporting access to decoded JSON messages.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hpungsan/wsdump/internal/errors"
)

// Object is a decoded JSON object. Numbers are kept as json.Number.
type Object map[string]any

// Decode parses a JSON document, keeping numbers exact.
func Decode(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.NewMalformedPayload(fmt.Sprintf("invalid JSON: %v", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.NewMalformedPayload("invalid JSON: trailing data")
	}
	return v, nil
}

// DecodeObject parses s and requires a JSON object.
func DecodeObject(s string) (Object, error) {
	v, err := Decode(s)
	if err != nil {
		return nil, err
	}
	return AsObject(v, "message")
}

// AsObject asserts v is a JSON object.
func AsObject(v any, what string) (Object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewMalformedPayload(fmt.Sprintf("%s is not an object", what))
	}
	return Object(m), nil
}

// AsArray asserts v is a JSON array.
func AsArray(v any, what string) ([]any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, errors.NewMalformedPayload(fmt.Sprintf("%s is not an array", what))
	}
	return a, nil
}

// AsFloat asserts v is a JSON number.
func AsFloat(v any, what string) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errors.NewMalformedPayload(fmt.Sprintf("%s is not a number", what))
	}
	f, err := n.Float64()
	if err != nil {
		return 0, errors.NewMalformedPayload(fmt.Sprintf("%s is not a number: %v", what, err))
	}
	return f, nil
}

// AsInt asserts v is an integral JSON number.
func AsInt(v any, what string) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errors.NewMalformedPayload(fmt.Sprintf("%s is not an integer", what))
	}
	i, err := n.Int64()
	if err != nil {
		return 0, errors.NewMalformedPayload(fmt.Sprintf("%s is not an integer", what))
	}
	return i, nil
}

// Has reports whether key is present.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

func (o Object) get(key string) (any, error) {
	v, ok := o[key]
	if !ok {
		return nil, errors.NewMalformedPayload(fmt.Sprintf("missing key %q", key))
	}
	return v, nil
}

// String returns the string at key.
func (o Object) String(key string) (string, error) {
	v, err := o.get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewMalformedPayload(fmt.Sprintf("key %q is not a string", key))
	}
	return s, nil
}

// Bool returns the boolean at key.
func (o Object) Bool(key string) (bool, error) {
	v, err := o.get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewMalformedPayload(fmt.Sprintf("key %q is not a boolean", key))
	}
	return b, nil
}

// Float returns the number at key.
func (o Object) Float(key string) (float64, error) {
	v, err := o.get(key)
	if err != nil {
		return 0, err
	}
	return AsFloat(v, fmt.Sprintf("key %q", key))
}

// Int returns the integer at key.
func (o Object) Int(key string) (int64, error) {
	v, err := o.get(key)
	if err != nil {
		return 0, err
	}
	return AsInt(v, fmt.Sprintf("key %q", key))
}

// Object returns the object at key.
func (o Object) Object(key string) (Object, error) {
	v, err := o.get(key)
	if err != nil {
		return nil, err
	}
	return AsObject(v, fmt.Sprintf("key %q", key))
}

// Array returns the array at key.
func (o Object) Array(key string) ([]any, error) {
	v, err := o.get(key)
	if err != nil {
		return nil, err
	}
	return AsArray(v, fmt.Sprintf("key %q", key))
}

// Raw re-encodes v as compact JSON.
func Raw(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.NewMalformedPayload(fmt.Sprintf("re-encode: %v", err))
	}
	return string(b), nil
}
