// Package options declares the typed configuration parameters accepted by
// each pipeline task and validates experiment stage arguments against them.
package options

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Type is the expected type of an option value.
type Type int

const (
	String Type = iota
	Int
	Float
	Bool
	List
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case List:
		return "list"
	default:
		return "str"
	}
}

// Option describes a single configuration parameter.
type Option struct {
	Name      string
	Type      Type
	Default   any
	Required  bool
	ForceFlag bool
	Help      string
}

// Opt customizes an Option built by New.
type Opt func(*Option, *bool)

// WithDefault sets the default value. An option with a default is optional
// unless Required(true) is also given.
func WithDefault(v any) Opt {
	return func(o *Option, _ *bool) { o.Default = v }
}

// Required forces the required flag either way.
func Required(required bool) Opt {
	return func(o *Option, explicit *bool) {
		o.Required = required
		*explicit = true
	}
}

// ForceFlag marks a required option as a --flag in generated command lines.
func ForceFlag() Opt {
	return func(o *Option, _ *bool) { o.ForceFlag = true }
}

// Help sets the documentation string.
func Help(s string) Opt {
	return func(o *Option, _ *bool) { o.Help = s }
}

// New builds an Option. Required is true iff no default is set, unless
// forced with Required.
func New(name string, typ Type, opts ...Opt) Option {
	o := Option{Name: name, Type: typ}
	explicit := false
	for _, fn := range opts {
		fn(&o, &explicit)
	}
	if !explicit {
		o.Required = o.Default == nil
	}
	return o
}

// Convert coerces v to the option's declared type.
func (o Option) Convert(v any) (any, error) {
	converted, ok := convert(o.Type, v)
	if !ok {
		return nil, &TypeError{Option: o.Name, Want: o.Type, Got: v}
	}
	return converted, nil
}

// IntFromFloat converts an integral float to int. It fails for fractions,
// NaN, infinities and values outside the int range.
func IntFromFloat(f float64) (int, bool) {
	if f != math.Trunc(f) || f < math.MinInt || f >= -math.MinInt {
		return 0, false
	}
	return int(f), true
}

func convert(t Type, v any) (any, bool) {
	switch t {
	case String:
		s, ok := v.(string)
		return s, ok
	case Bool:
		b, ok := v.(bool)
		return b, ok
	case Int:
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			if int64(int(n)) == n {
				return int(n), true
			}
		case float64:
			return IntFromFloat(n)
		}
		return nil, false
	case Float:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
		return nil, false
	case List:
		l, ok := v.([]any)
		return l, ok
	}
	return nil, false
}

// NotFoundError is returned when a task or option name is not registered.
type NotFoundError struct {
	Task   string
	Option string
}

func (e *NotFoundError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("task %q is not registered", e.Task)
	}
	return fmt.Sprintf("tried to remove nonexistent option %q for task %q", e.Option, e.Task)
}

// UnknownOptionError is returned when stage arguments carry a key the task
// does not declare.
type UnknownOptionError struct {
	Task   string
	Option string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option %q for task %q", e.Option, e.Task)
}

// MissingOptionError is returned when a required option has no value.
type MissingOptionError struct {
	Task   string
	Option string
}

func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("required option %q not found for task %q", e.Option, e.Task)
}

// TypeError is returned when a value cannot be converted to the option type.
type TypeError struct {
	Option string
	Want   Type
	Got    any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("option %q expects %s, got %T", e.Option, e.Want, e.Got)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
