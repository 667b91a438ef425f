package decode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/xnmt/internal/components"
	"github.com/mpataki/xnmt/internal/options"
)

// dictionary is a fixed word-for-word model.
type dictionary map[string]string

func (d dictionary) TrainEpoch(context.Context, []components.Pair) error { return nil }
func (d dictionary) Loss([]components.Pair) float64                      { return 0 }

func (d dictionary) Translate(src []string) []string {
	out := make([]string, len(src))
	for i, w := range src {
		if t, ok := d[w]; ok {
			out[i] = t
		} else {
			out[i] = w
		}
	}
	return out
}

type trained struct {
	model  components.Translator
	parser *components.BilingualCorpusParser
}

func (t trained) Model() components.Translator                    { return t.model }
func (t trained) CorpusParser() *components.BilingualCorpusParser { return t.parser }

func TestDecode_WritesHypotheses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "test.de")
	require.NoError(t, os.WriteFile(src, []byte("Das Haus\nein sehr langer satz hier\nBuch\n"), 0600))
	hyp := filepath.Join(dir, "out", "exp.hyp")

	tr := trained{
		model: dictionary{"das": "the", "haus": "house", "buch": "book"},
		parser: &components.BilingualCorpusParser{
			SrcReader: &components.PlainTextReader{Lowercase: true},
			TrgReader: &components.PlainTextReader{},
		},
	}
	err := Decoder{}.Decode(context.Background(), tr, options.Values{
		"src_file":    src,
		"trg_file":    hyp,
		"max_src_len": 3,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(hyp)
	require.NoError(t, err)
	assert.Equal(t, "the house\n\nbook\n", string(data), "long sentences leave an empty line")
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tr := trained{model: dictionary{}, parser: &components.BilingualCorpusParser{SrcReader: &components.PlainTextReader{}}}

	err := Decoder{}.Decode(context.Background(), struct{}{}, options.Values{"src_file": "a", "trg_file": "b"})
	assert.ErrorContains(t, err, "does not expose a model")

	err = Decoder{}.Decode(context.Background(), tr, options.Values{"trg_file": "b"})
	assert.ErrorContains(t, err, "src_file is not set")

	err = Decoder{}.Decode(context.Background(), tr, options.Values{"src_file": "a"})
	assert.ErrorContains(t, err, "trg_file is not set")

	err = Decoder{}.Decode(context.Background(), tr, options.Values{
		"src_file": filepath.Join(t.TempDir(), "missing"),
		"trg_file": "b",
	})
	assert.ErrorContains(t, err, "failed to open")
}
