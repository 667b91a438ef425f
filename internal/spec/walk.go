package spec

import "fmt"

// Schemas exposes the declared constructor fields of typed objects.
type Schemas interface {
	// FieldNames returns the declared field names of a type, in order.
	FieldNames(typeName string) ([]string, bool)
}

// Field is one slot of a container visited by Walk.
type Field struct {
	Key   string
	Value Node

	set func(Node)
}

// Set replaces the field's value in its container.
func (f *Field) Set(n Node) {
	f.Value = n
	f.set(n)
}

// VisitFunc is called for every field. path holds the keys of the enclosing
// containers. After it returns, Walk descends into the field's current value.
type VisitFunc func(path []string, f *Field) error

// Walk visits the fields of n depth-first. Mappings expose all keys, lists
// expose their items as "[i]", and typed objects expose the declared fields
// that are present.
func Walk(n Node, schemas Schemas, visit VisitFunc) error {
	return walk(n, schemas, nil, visit)
}

func walk(n Node, schemas Schemas, path []string, visit VisitFunc) error {
	for _, f := range fields(n, schemas) {
		if err := visit(path, f); err != nil {
			return err
		}
		switch f.Value.(type) {
		case *Mapping, *List, *Object:
			if err := walk(f.Value, schemas, append(path[:len(path):len(path)], f.Key), visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func fields(n Node, schemas Schemas) []*Field {
	switch v := n.(type) {
	case *Mapping:
		return mappingFields(v, v.Keys())
	case *Object:
		if v.Fields == nil {
			return nil
		}
		keys := v.Fields.Keys()
		if schemas != nil {
			if declared, ok := schemas.FieldNames(v.Type); ok {
				keys = keys[:0]
				for _, name := range declared {
					if _, present := v.Fields.Get(name); present {
						keys = append(keys, name)
					}
				}
			}
		}
		return mappingFields(v.Fields, keys)
	case *List:
		out := make([]*Field, len(v.Items))
		for i := range v.Items {
			i := i
			out[i] = &Field{
				Key:   fmt.Sprintf("[%d]", i),
				Value: v.Items[i],
				set:   func(n Node) { v.Items[i] = n },
			}
		}
		return out
	}
	return nil
}

func mappingFields(m *Mapping, keys []string) []*Field {
	out := make([]*Field, 0, len(keys))
	for _, k := range keys {
		k := k
		val, _ := m.Get(k)
		out = append(out, &Field{
			Key:   k,
			Value: val,
			set:   func(n Node) { m.Set(k, n) },
		})
	}
	return out
}
