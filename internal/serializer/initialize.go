package serializer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/spec"
)

// InitializationError is returned when an object cannot be constructed.
type InitializationError struct {
	Type  string
	Field string
	Msg   string
	Err   error
}

func (e *InitializationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("initializing %s.%s: %s", e.Type, e.Field, msg)
	}
	return fmt.Sprintf("initializing %s: %s", e.Type, msg)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Initialize constructs every typed object under n and returns the plain
// value of n: objects become instances, mappings become options.Values,
// lists become []any. Constructed objects are consumed and cannot be
// initialized again.
func (r *Registry) Initialize(n spec.Node, ectx *params.Context) (any, error) {
	switch v := n.(type) {
	case *spec.Scalar:
		return v.Value, nil
	case *spec.Live:
		return v.Value, nil
	case *spec.Mapping:
		out := make(options.Values, v.Len())
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			val, err := r.Initialize(child, ectx)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case *spec.List:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			val, err := r.Initialize(item, ectx)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case *spec.Object:
		return r.construct(v, ectx)
	case *spec.Random:
		return nil, &InitializationError{Type: "RandomParam", Msg: "random parameter was never resolved"}
	}
	return nil, &InitializationError{Type: fmt.Sprintf("%T", n), Msg: "unsupported node"}
}

// InitializeInPlace initializes the node stored under key and replaces it
// with the constructed value.
func (r *Registry) InitializeInPlace(m *spec.Mapping, key string, ectx *params.Context) (any, error) {
	n, ok := m.Get(key)
	if !ok {
		return nil, &InitializationError{Type: key, Msg: "not configured"}
	}
	val, err := r.Initialize(n, ectx)
	if err != nil {
		return nil, err
	}
	m.Set(key, &spec.Live{Value: val})
	return val, nil
}

func (r *Registry) construct(obj *spec.Object, ectx *params.Context) (any, error) {
	if obj.Consumed() {
		return nil, &InitializationError{Type: obj.Type, Msg: "object was already initialized"}
	}
	def, ok := r.types[obj.Type]
	if !ok {
		return nil, &InitializationError{Type: obj.Type, Msg: "unknown type"}
	}

	fields := obj.Fields
	if fields == nil {
		fields = spec.NewMapping()
	}

	declared := make(map[string]bool, len(def.Schema))
	for _, f := range def.Schema {
		declared[f.Name] = true
	}
	for _, k := range fields.Keys() {
		if !declared[k] {
			return nil, &InitializationError{Type: obj.Type, Field: k, Msg: "unknown argument"}
		}
	}

	args := make(options.Values, len(def.Schema))
	for _, f := range def.Schema {
		raw, present := fields.Get(f.Name)
		if !present {
			if f.Default != nil {
				args[f.Name] = f.Default
				continue
			}
			if f.Required {
				return nil, &InitializationError{Type: obj.Type, Field: f.Name, Msg: "missing required argument"}
			}
			continue
		}
		val, err := r.Initialize(raw, ectx)
		if err != nil {
			return nil, err
		}
		val, err = coerce(f, val)
		if err != nil {
			return nil, &InitializationError{Type: obj.Type, Field: f.Name, Err: err}
		}
		args[f.Name] = val
	}

	instance, err := def.New(args, ectx)
	if err != nil {
		return nil, &InitializationError{Type: obj.Type, Err: err}
	}
	obj.Consume()
	return instance, nil
}

func coerce(f Field, val any) (any, error) {
	if val == nil {
		if f.Required {
			return nil, errors.New("required argument is null")
		}
		return nil, nil
	}
	switch f.Kind {
	case String:
		if _, ok := val.(string); ok {
			return val, nil
		}
	case Bool:
		if _, ok := val.(bool); ok {
			return val, nil
		}
	case Int:
		switch n := val.(type) {
		case int:
			return n, nil
		case float64:
			if i, ok := options.IntFromFloat(n); ok {
				return i, nil
			}
			return nil, errors.Errorf("%v is not an integer in range", n)
		}
	case Float:
		switch n := val.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case ListKind:
		if _, ok := val.([]any); ok {
			return val, nil
		}
	case MapKind:
		if _, ok := val.(options.Values); ok {
			return val, nil
		}
	case ObjectKind:
		switch val.(type) {
		case options.Values, []any, string, int, float64, bool:
		default:
			return val, nil
		}
	case Any:
		return val, nil
	}
	return nil, errors.Errorf("unexpected value of type %T", val)
}
