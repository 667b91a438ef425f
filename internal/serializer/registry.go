// Package serializer turns typed-object placeholders from a configuration
// tree into constructed instances.
//
// Every constructible type is registered with an explicit schema naming its
// constructor fields. Construction is bottom-up: nested objects are built
// before the object that holds them, and every constructor receives the
// shared execution context of the current training run.
package serializer

import (
	"fmt"
	"sort"

	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
)

// Kind is the expected kind of a constructor field.
type Kind int

const (
	Any Kind = iota
	String
	Int
	Float
	Bool
	ObjectKind
	ListKind
	MapKind
)

// Field declares one constructor argument.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Default  any
}

// Schema is the ordered list of constructor fields of a type.
type Schema []Field

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Constructor builds an instance from resolved arguments.
type Constructor func(args options.Values, ectx *params.Context) (any, error)

// TypeDef pairs a schema with its constructor.
type TypeDef struct {
	Name   string
	Schema Schema
	New    Constructor
}

// Registry maps type tags to their definitions.
type Registry struct {
	types map[string]*TypeDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDef)}
}

// Register adds a type. Registering a name twice panics.
func (r *Registry) Register(def *TypeDef) {
	if _, exists := r.types[def.Name]; exists {
		panic(fmt.Sprintf("type %q already registered", def.Name))
	}
	r.types[def.Name] = def
}

// Lookup returns a type definition.
func (r *Registry) Lookup(name string) (*TypeDef, bool) {
	def, ok := r.types[name]
	return def, ok
}

// Has reports whether a type is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.types[name]
	return ok
}

// FieldNames returns the declared fields of a type.
func (r *Registry) FieldNames(name string) ([]string, bool) {
	def, ok := r.types[name]
	if !ok {
		return nil, false
	}
	return def.Schema.Names(), true
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
