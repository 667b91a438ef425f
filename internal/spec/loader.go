package spec

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultsKey is a reserved top-level key that is always discarded.
	DefaultsKey = "defaults"

	randomParamTag = "!RandomParam"
)

// Experiment is one named entry of the document: stage name to stage config.
type Experiment struct {
	Name               string
	Stages             *Mapping
	RandomSearchReport Report
}

// Stage returns the node configured for a stage.
func (e *Experiment) Stage(name string) Node {
	n, ok := e.Stages.Get(name)
	if !ok {
		return NewMapping()
	}
	return n
}

// Document is a loaded configuration file.
type Document struct {
	Path        string
	Experiments map[string]*Experiment
}

// Names returns the experiment names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Experiments))
	for name := range d.Experiments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader turns configuration documents into experiments.
type Loader struct {
	// Tasks are the stage names every experiment is guaranteed to carry.
	Tasks []string
	// Schemas resolves typed-object tags. Unknown tags are parse errors.
	Schemas interface {
		Schemas
		Has(typeName string) bool
	}
	// Rand drives random search.
	Rand *rand.Rand
	// Token is the placeholder replaced by the experiment name.
	Token string
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigReadError{Path: path, Err: err}
	}
	doc, err := l.Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// Parse builds a document from YAML bytes. Each experiment is copied, its
// random parameters drawn, its placeholders substituted and its missing
// stages added as empty mappings.
func (l *Loader) Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Msg: err.Error()}
	}

	doc := &Document{Experiments: make(map[string]*Experiment)}
	if root.Kind == 0 || len(root.Content) == 0 {
		return doc, nil
	}

	c := &converter{schemas: l.Schemas, params: make(map[*yaml.Node]*RandomParam)}
	top, err := c.convert(root.Content[0])
	if err != nil {
		return nil, err
	}
	experiments, ok := top.(*Mapping)
	if !ok {
		return nil, &ParseError{Line: root.Content[0].Line, Msg: "top level must be a mapping of experiment names"}
	}
	experiments.Delete(DefaultsKey)

	tasks := make(map[string]bool, len(l.Tasks))
	for _, t := range l.Tasks {
		tasks[t] = true
	}

	rng := l.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	for _, name := range sortedKeys(experiments) {
		raw, _ := experiments.Get(name)
		var stages *Mapping
		switch v := Clone(raw).(type) {
		case *Mapping:
			stages = v
		case *Scalar:
			if v.Value != nil {
				return nil, &ParseError{Msg: fmt.Sprintf("experiment %q must be a mapping of stages", name)}
			}
			stages = NewMapping()
		default:
			return nil, &ParseError{Msg: fmt.Sprintf("experiment %q must be a mapping of stages", name)}
		}
		if len(tasks) > 0 {
			for _, stage := range stages.Keys() {
				if !tasks[stage] {
					return nil, &ParseError{Msg: fmt.Sprintf("experiment %q: unknown stage %q", name, stage)}
				}
			}
		}

		report, err := ResolveRandom(stages, l.Schemas, rng, Draws{})
		if err != nil {
			return nil, errors.Wrapf(err, "experiment %q: random search", name)
		}
		SubstitutePlaceholder(stages, l.Schemas, name, l.Token)

		for _, t := range l.Tasks {
			if _, ok := stages.Get(t); !ok {
				stages.Set(t, NewMapping())
			}
		}

		exp := &Experiment{Name: name, Stages: stages}
		if len(report) > 0 {
			exp.RandomSearchReport = report
		}
		doc.Experiments[name] = exp
	}

	return doc, nil
}

func sortedKeys(m *Mapping) []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}

type converter struct {
	schemas interface {
		Schemas
		Has(typeName string) bool
	}
	params map[*yaml.Node]*RandomParam
	nextID int
	// active holds the collections being converted, to catch aliases to an
	// enclosing anchor.
	active map[*yaml.Node]bool
}

func (c *converter) enter(n *yaml.Node) error {
	if c.active[n] {
		return &ParseError{Line: n.Line, Msg: fmt.Sprintf("anchor %q contains itself", n.Anchor)}
	}
	if c.active == nil {
		c.active = make(map[*yaml.Node]bool)
	}
	c.active[n] = true
	return nil
}

func (c *converter) leave(n *yaml.Node) {
	delete(c.active, n)
}

func (c *converter) convert(n *yaml.Node) (Node, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return &Scalar{}, nil
		}
		return c.convert(n.Content[0])
	case yaml.AliasNode:
		return c.convert(n.Alias)
	case yaml.MappingNode:
		if n.Tag == randomParamTag {
			return c.randomParam(n)
		}
		m, err := c.mapping(n)
		if err != nil {
			return nil, err
		}
		if isCustomTag(n.Tag) {
			return c.object(n, m)
		}
		return m, nil
	case yaml.SequenceNode:
		if n.Tag == randomParamTag {
			return c.randomParam(n)
		}
		items, err := c.sequence(n)
		if err != nil {
			return nil, err
		}
		if isCustomTag(n.Tag) {
			return nil, &ParseError{Line: n.Line, Msg: fmt.Sprintf("tag %s cannot be applied to a sequence", n.Tag)}
		}
		return &List{Items: items}, nil
	case yaml.ScalarNode:
		if isCustomTag(n.Tag) {
			if n.Value != "" {
				return nil, &ParseError{Line: n.Line, Msg: fmt.Sprintf("tag %s expects a mapping", n.Tag)}
			}
			return c.object(n, NewMapping())
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, &ParseError{Line: n.Line, Msg: err.Error()}
		}
		return &Scalar{Value: v}, nil
	}
	return nil, &ParseError{Line: n.Line, Msg: "unsupported node"}
}

func (c *converter) mapping(n *yaml.Node) (*Mapping, error) {
	if err := c.enter(n); err != nil {
		return nil, err
	}
	defer c.leave(n)
	m := NewMapping()
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Tag == "!!merge" || k.Value == "<<" {
			merges = append(merges, v)
			continue
		}
		if k.Kind != yaml.ScalarNode {
			return nil, &ParseError{Line: k.Line, Msg: "mapping keys must be scalars"}
		}
		val, err := c.convert(v)
		if err != nil {
			return nil, err
		}
		m.Set(k.Value, val)
	}
	for _, merge := range merges {
		if err := c.merge(m, merge); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// merge applies a YAML merge key: entries not set explicitly are taken from
// the referenced mapping(s).
func (c *converter) merge(dst *Mapping, src *yaml.Node) error {
	target := src
	if target.Kind == yaml.AliasNode {
		target = target.Alias
	}
	switch target.Kind {
	case yaml.MappingNode:
		m, err := c.mapping(target)
		if err != nil {
			return err
		}
		for _, k := range m.Keys() {
			if _, exists := dst.Get(k); !exists {
				v, _ := m.Get(k)
				dst.Set(k, v)
			}
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range target.Content {
			if err := c.merge(dst, item); err != nil {
				return err
			}
		}
		return nil
	}
	return &ParseError{Line: src.Line, Msg: "merge key expects a mapping"}
}

func (c *converter) sequence(n *yaml.Node) ([]Node, error) {
	if err := c.enter(n); err != nil {
		return nil, err
	}
	defer c.leave(n)
	items := make([]Node, 0, len(n.Content))
	for _, child := range n.Content {
		item, err := c.convert(child)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *converter) object(n *yaml.Node, fields *Mapping) (Node, error) {
	typeName := strings.TrimPrefix(n.Tag, "!")
	if c.schemas != nil && !c.schemas.Has(typeName) {
		return nil, &ParseError{Line: n.Line, Msg: fmt.Sprintf("unknown type %s", n.Tag)}
	}
	return &Object{Type: typeName, Fields: fields}, nil
}

// randomParam converts a !RandomParam node. The same YAML node reached
// through aliases yields the same RandomParam.
func (c *converter) randomParam(n *yaml.Node) (Node, error) {
	if p, ok := c.params[n]; ok {
		return &Random{Param: p}, nil
	}

	p := &RandomParam{ID: n.Anchor}
	var values *yaml.Node
	switch n.Kind {
	case yaml.SequenceNode:
		values = n
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			switch k.Value {
			case "values":
				values = v
			case "id":
				p.ID = v.Value
			default:
				return nil, &ParseError{Line: k.Line, Msg: fmt.Sprintf("unknown RandomParam field %q", k.Value)}
			}
		}
	}
	if values != nil && values.Kind == yaml.AliasNode {
		values = values.Alias
	}
	if values == nil || values.Kind != yaml.SequenceNode || len(values.Content) == 0 {
		return nil, &ParseError{Line: n.Line, Msg: "RandomParam needs a non-empty list of values"}
	}
	items, err := c.sequence(values)
	if err != nil {
		return nil, err
	}
	p.Values = items
	if p.ID == "" {
		c.nextID++
		p.ID = fmt.Sprintf("random-%d", c.nextID)
	}
	c.params[n] = p
	return &Random{Param: p}, nil
}

func isCustomTag(tag string) bool {
	return strings.HasPrefix(tag, "!") && !strings.HasPrefix(tag, "!!")
}
