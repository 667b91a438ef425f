// Package decode translates a source file with a trained model and writes
// the hypotheses consumed by evaluation.
package decode

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/components"
	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/options"
)

// Options are the arguments accepted by the decode task.
func Options() []options.Option {
	return []options.Option{
		options.New("src_file", options.String, options.Help("Path of file to be translated")),
		options.New("trg_file", options.String, options.Required(false),
			options.Help("Path of file where translations will be written (set to the experiment's hyp_file)")),
		options.New("max_src_len", options.Int, options.WithDefault(0),
			options.Help("Skip sentences longer than this many words; 0 disables the limit")),
	}
}

// ModelElements is what a training object exposes for decoding.
type ModelElements interface {
	Model() components.Translator
	CorpusParser() *components.BilingualCorpusParser
}

// Decoder runs the decode stage.
type Decoder struct{}

// Decode translates src_file into trg_file. Sentences over max_src_len are
// written as empty lines so hypotheses stay aligned with references.
func (Decoder) Decode(ctx context.Context, trained any, args options.Values) error {
	elems, ok := trained.(ModelElements)
	if !ok {
		return errors.Errorf("training object %T does not expose a model and corpus parser", trained)
	}
	srcFile, err := args.String("src_file")
	if err != nil {
		return err
	}
	if srcFile == "" {
		return errors.New("src_file is not set")
	}
	trgFile, err := args.String("trg_file")
	if err != nil {
		return err
	}
	if trgFile == "" {
		return errors.New("trg_file is not set")
	}
	maxLen, err := args.Int("max_src_len")
	if err != nil {
		return err
	}

	sents, err := elems.CorpusParser().ReadSource(srcFile)
	if err != nil {
		return err
	}

	model := elems.Model()
	var b strings.Builder
	skipped := 0
	for _, src := range sents {
		if maxLen > 0 && len(src) > maxLen {
			skipped++
			b.WriteByte('\n')
			continue
		}
		b.WriteString(strings.Join(model.Translate(src), " "))
		b.WriteByte('\n')
	}

	if dir := filepath.Dir(trgFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}
	if err := os.WriteFile(trgFile, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", trgFile)
	}
	ctxlog.FromContext(ctx).Info("Decoding finished.", "sentences", len(sents), "skipped", skipped, "output", trgFile)
	return nil
}
