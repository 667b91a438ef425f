// Package spec loads multi-experiment configuration documents into a tree of
// nodes and runs the random search and placeholder passes over it.
package spec

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one value in a configuration tree. Concrete types are *Scalar,
// *Mapping, *List, *Object, *Random and *Live.
type Node interface {
	isNode()
}

// Scalar holds a plain value: nil, string, int, float64 or bool.
type Scalar struct {
	Value any
}

// Mapping is an ordered string-keyed mapping.
type Mapping struct {
	keys   []string
	values map[string]Node
}

// List is a sequence of nodes.
type List struct {
	Items []Node
}

// Object is a typed-object placeholder: a type tag plus its raw constructor
// arguments, not yet constructed.
type Object struct {
	Type   string
	Fields *Mapping

	consumed bool
}

// Random wraps a RandomParam embedded in the tree.
type Random struct {
	Param *RandomParam
}

// Live holds a constructed instance that replaced an Object.
type Live struct {
	Value any
}

func (*Scalar) isNode()  {}
func (*Mapping) isNode() {}
func (*List) isNode()    {}
func (*Object) isNode()  {}
func (*Random) isNode()  {}
func (*Live) isNode()    {}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]Node)}
}

// Get returns the node stored under key.
func (m *Mapping) Get(key string) (Node, bool) {
	n, ok := m.values[key]
	return n, ok
}

// Set stores n under key, keeping the position of an existing key.
func (m *Mapping) Set(key string, n Node) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = n
}

// Delete removes key if present.
func (m *Mapping) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	return len(m.keys)
}

// Consumed reports whether the object has already been constructed.
func (o *Object) Consumed() bool {
	return o.consumed
}

// Consume marks the object as constructed and drops its raw fields.
func (o *Object) Consume() {
	o.consumed = true
	o.Fields = nil
}

// Str is a convenience constructor for string scalars.
func Str(s string) *Scalar {
	return &Scalar{Value: s}
}

// Clone deep-copies a tree. RandomParams shared within n stay shared in the
// copy, but the copies carry no drawn value.
func Clone(n Node) Node {
	return cloneNode(n, make(map[*RandomParam]*RandomParam))
}

func cloneNode(n Node, params map[*RandomParam]*RandomParam) Node {
	switch v := n.(type) {
	case *Scalar:
		return &Scalar{Value: v.Value}
	case *Mapping:
		out := NewMapping()
		for _, k := range v.keys {
			out.Set(k, cloneNode(v.values[k], params))
		}
		return out
	case *List:
		out := &List{Items: make([]Node, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = cloneNode(item, params)
		}
		return out
	case *Object:
		out := &Object{Type: v.Type, consumed: v.consumed}
		if v.Fields != nil {
			out.Fields = cloneNode(v.Fields, params).(*Mapping)
		}
		return out
	case *Random:
		if p, ok := params[v.Param]; ok {
			return &Random{Param: p}
		}
		p := &RandomParam{ID: v.Param.ID, Values: make([]Node, len(v.Param.Values))}
		for i, val := range v.Param.Values {
			p.Values[i] = cloneNode(val, params)
		}
		params[v.Param] = p
		return &Random{Param: p}
	case *Live:
		return &Live{Value: v.Value}
	}
	return n
}

// Plain converts a tree into plain Go values for display and reporting.
func Plain(n Node) any {
	switch v := n.(type) {
	case *Scalar:
		return v.Value
	case *Mapping:
		out := make(map[string]any, v.Len())
		for _, k := range v.keys {
			out[k] = Plain(v.values[k])
		}
		return out
	case *List:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = Plain(item)
		}
		return out
	case *Object:
		return "!" + v.Type
	case *Random:
		return fmt.Sprintf("RandomParam(values=%v)", Plain(&List{Items: v.Param.Values}))
	case *Live:
		return v.Value
	}
	return nil
}

// Format renders a plain value with sorted map keys.
func Format(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + Format(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Report:
		return Format(map[string]any(val))
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return "null"
	default:
		return fmt.Sprint(val)
	}
}
