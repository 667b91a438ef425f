package options

import (
	"github.com/pkg/errors"
)

// Values holds resolved arguments for a task or a typed object.
type Values map[string]any

// Get returns the raw value for key.
func (v Values) Get(key string) (any, bool) {
	val, ok := v[key]
	return val, ok
}

// String returns a string value, or "" if absent.
func (v Values) String(key string) (string, error) {
	val, ok := v[key]
	if !ok || val == nil {
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", errors.Errorf("%s: expected string, got %T", key, val)
	}
	return s, nil
}

// Int returns an int value, or 0 if absent.
func (v Values) Int(key string) (int, error) {
	val, ok := v[key]
	if !ok || val == nil {
		return 0, nil
	}
	n, ok := convert(Int, val)
	if !ok {
		return 0, errors.Errorf("%s: expected int, got %T", key, val)
	}
	return n.(int), nil
}

// Float returns a float value, or 0 if absent.
func (v Values) Float(key string) (float64, error) {
	val, ok := v[key]
	if !ok || val == nil {
		return 0, nil
	}
	f, ok := convert(Float, val)
	if !ok {
		return 0, errors.Errorf("%s: expected float, got %T", key, val)
	}
	return f.(float64), nil
}

// Bool returns a bool value, or false if absent.
func (v Values) Bool(key string) (bool, error) {
	val, ok := v[key]
	if !ok || val == nil {
		return false, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, errors.Errorf("%s: expected bool, got %T", key, val)
	}
	return b, nil
}

// Strings returns a list of strings, or nil if absent.
func (v Values) Strings(key string) ([]string, error) {
	val, ok := v[key]
	if !ok || val == nil {
		return nil, nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil, errors.Errorf("%s: expected list, got %T", key, val)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errors.Errorf("%s[%d]: expected string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
