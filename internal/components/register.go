// Package components provides the built-in typed objects that a train stage
// can instantiate: a training regimen, corpora, corpus readers and a lexical
// translation model.
package components

import (
	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/serializer"
)

// ErrNoContext is returned by constructors that need the execution context
// of a training run when they are built outside the train stage.
var ErrNoContext = errors.New("needs an execution context; it can only be used in the train stage")

// Register adds the built-in component types to reg.
func Register(reg *serializer.Registry) {
	defs := []*serializer.TypeDef{
		{Name: "SimpleTrainingRegimen", Schema: trainingRegimenSchema, New: newTrainingRegimen},
		{Name: "BilingualCorpus", Schema: bilingualCorpusSchema, New: newBilingualCorpus},
		{Name: "BilingualCorpusParser", Schema: corpusParserSchema, New: newCorpusParser},
		{Name: "PlainTextReader", Schema: plainTextReaderSchema, New: newPlainTextReader},
		{Name: "LexiconTranslator", Schema: lexiconSchema, New: newLexiconTranslator},
	}
	for _, def := range defs {
		reg.Register(def)
	}
}
