package spec

import (
	"math/rand/v2"
	"strings"
)

// RandomParam is a set of candidate values resolved once per experiment.
// RandomParams sharing an ID resolve to the same value within one pass.
type RandomParam struct {
	Values []Node
	ID     string

	drawn    Node
	hasDrawn bool
}

// NewRandomParam returns a RandomParam over the given candidates.
func NewRandomParam(id string, values ...Node) *RandomParam {
	return &RandomParam{ID: id, Values: values}
}

// Draw picks a candidate uniformly at random. Later calls return the same
// candidate.
func (p *RandomParam) Draw(rng *rand.Rand) Node {
	if !p.hasDrawn {
		if len(p.Values) == 0 {
			p.drawn = &Scalar{}
		} else {
			p.drawn = p.Values[rng.IntN(len(p.Values))]
		}
		p.hasDrawn = true
	}
	return p.drawn
}

// Drawn returns the drawn value, if any.
func (p *RandomParam) Drawn() (Node, bool) {
	return p.drawn, p.hasDrawn
}

// assign records a value drawn elsewhere under the same identity.
func (p *RandomParam) assign(n Node) {
	p.drawn = n
	p.hasDrawn = true
}

// Report maps option paths to drawn values. Nested objects and mappings get
// nested reports.
type Report map[string]any

func (r Report) insert(path []string, key string, value any) {
	cur := r
	for _, p := range path {
		next, ok := cur[p].(Report)
		if !ok {
			next = Report{}
			cur[p] = next
		}
		cur = next
	}
	cur[key] = value
}

// String renders the report with sorted keys.
func (r Report) String() string {
	return Format(r)
}

// Draws is the per-pass resolution registry keyed by RandomParam identity.
type Draws map[string]Node

// ResolveRandom replaces every RandomParam under n with a drawn value and
// reports what was drawn. Identities already present in draws are reused;
// new draws are recorded there. Pass a fresh Draws per experiment.
func ResolveRandom(n Node, schemas Schemas, rng *rand.Rand, draws Draws) (Report, error) {
	report := Report{}
	err := Walk(n, schemas, func(path []string, f *Field) error {
		r, ok := f.Value.(*Random)
		if !ok {
			return nil
		}
		var value Node
		if prev, seen := draws[r.Param.ID]; seen && r.Param.ID != "" {
			r.Param.assign(prev)
			value = prev
		} else {
			value = r.Param.Draw(rng)
			if r.Param.ID != "" {
				draws[r.Param.ID] = value
			}
		}
		// Each location gets its own copy so later passes can consume it.
		f.Set(Clone(value))
		report.insert(path, f.Key, Plain(value))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// PlaceholderToken is replaced with the experiment name in string values.
const PlaceholderToken = "<EXP>"

// SubstitutePlaceholder replaces every occurrence of token in string values
// under n with value.
func SubstitutePlaceholder(n Node, schemas Schemas, value, token string) {
	if token == "" {
		token = PlaceholderToken
	}
	_ = Walk(n, schemas, func(_ []string, f *Field) error {
		s, ok := f.Value.(*Scalar)
		if !ok {
			return nil
		}
		str, ok := s.Value.(string)
		if ok && strings.Contains(str, token) {
			f.Set(Str(strings.ReplaceAll(str, token, value)))
		}
		return nil
	})
}
