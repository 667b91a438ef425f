package components

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/serializer"
)

const (
	lexiconTable = "lexicon"
	nullWord     = "<null>"
)

// Translator is a trainable sequence-to-sequence model.
type Translator interface {
	// TrainEpoch runs one pass over the training pairs.
	TrainEpoch(ctx context.Context, pairs []Pair) error
	// Loss returns the per-word negative log likelihood of pairs.
	Loss(pairs []Pair) float64
	// Translate decodes a source sentence.
	Translate(src []string) []string
}

// LexiconTranslator is a word-level lexical translation model (IBM model 1)
// trained with expectation maximization. Its translation table lives in the
// shared parameter collection, so reverting the collection reverts the model.
type LexiconTranslator struct {
	params    *params.Collection
	useNull   bool
	smoothing float64
}

var lexiconSchema = serializer.Schema{
	{Name: "null_word", Kind: serializer.Bool, Default: true},
	{Name: "smoothing", Kind: serializer.Float, Default: 1e-9},
}

func newLexiconTranslator(args options.Values, ectx *params.Context) (any, error) {
	if ectx == nil || ectx.Params == nil {
		return nil, errors.Wrap(ErrNoContext, "LexiconTranslator")
	}
	useNull, err := args.Bool("null_word")
	if err != nil {
		return nil, err
	}
	smoothing, err := args.Float("smoothing")
	if err != nil {
		return nil, err
	}
	return NewLexiconTranslator(ectx.Params, useNull, smoothing), nil
}

// NewLexiconTranslator returns a model storing its table in pc.
func NewLexiconTranslator(pc *params.Collection, useNull bool, smoothing float64) *LexiconTranslator {
	return &LexiconTranslator{params: pc, useNull: useNull, smoothing: smoothing}
}

func (m *LexiconTranslator) sources(src []string) []string {
	if !m.useNull {
		return src
	}
	return append([]string{nullWord}, src...)
}

// TrainEpoch runs one EM iteration. An empty table is first initialized
// uniformly over the target vocabulary.
func (m *LexiconTranslator) TrainEpoch(ctx context.Context, pairs []Pair) error {
	table := m.params.Table(lexiconTable)
	if len(table) == 0 {
		vocab := make(map[string]bool)
		for _, p := range pairs {
			for _, f := range p.Trg {
				vocab[f] = true
			}
		}
		uniform := 1 / float64(len(vocab))
		for _, p := range pairs {
			for _, e := range m.sources(p.Src) {
				row, ok := table[e]
				if !ok {
					row = make(map[string]float64)
					table[e] = row
				}
				for _, f := range p.Trg {
					row[f] = uniform
				}
			}
		}
	}

	counts := make(map[string]map[string]float64, len(table))
	totals := make(map[string]float64, len(table))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := m.sources(p.Src)
		for _, f := range p.Trg {
			var z float64
			for _, e := range src {
				z += table[e][f]
			}
			if z == 0 {
				continue
			}
			for _, e := range src {
				c := table[e][f] / z
				if c == 0 {
					continue
				}
				row, ok := counts[e]
				if !ok {
					row = make(map[string]float64)
					counts[e] = row
				}
				row[f] += c
				totals[e] += c
			}
		}
	}

	next := make(params.Table, len(counts))
	for e, row := range counts {
		out := make(map[string]float64, len(row))
		for f, c := range row {
			out[f] = c / totals[e]
		}
		next[e] = out
	}
	m.params.SetTable(lexiconTable, next)
	return nil
}

// Loss returns the average negative log likelihood per target word.
func (m *LexiconTranslator) Loss(pairs []Pair) float64 {
	table := m.params.Table(lexiconTable)
	var nll float64
	var words int
	for _, p := range pairs {
		src := m.sources(p.Src)
		for _, f := range p.Trg {
			var sum float64
			for _, e := range src {
				sum += table[e][f]
			}
			nll -= math.Log((sum + m.smoothing) / float64(len(src)+1))
			words++
		}
	}
	if words == 0 {
		return 0
	}
	return nll / float64(words)
}

// Translate picks the most probable target word for every source word.
// Unknown words are copied through.
func (m *LexiconTranslator) Translate(src []string) []string {
	table := m.params.Table(lexiconTable)
	out := make([]string, 0, len(src))
	for _, e := range src {
		row, ok := table[e]
		if !ok || len(row) == 0 {
			out = append(out, e)
			continue
		}
		candidates := make([]string, 0, len(row))
		for f := range row {
			candidates = append(candidates, f)
		}
		sort.Strings(candidates)
		best := candidates[0]
		for _, f := range candidates[1:] {
			if row[f] > row[best] {
				best = f
			}
		}
		out = append(out, best)
	}
	return out
}
