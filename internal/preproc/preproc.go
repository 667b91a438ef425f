// Package preproc implements the preprocessing stage: a list of typed steps
// that rewrite corpus files before training.
package preproc

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/serializer"
)

// Options are the arguments accepted by the preproc task.
func Options() []options.Option {
	return []options.Option{
		options.New("overwrite", options.Bool, options.WithDefault(false),
			options.Help("Whether to overwrite files if they already exist")),
		options.New("preproc_specs", options.List, options.Required(false),
			options.Help("A list of preprocessing steps")),
	}
}

// Step rewrites a set of input files into output files.
type Step interface {
	Inputs() []string
	Outputs() []string
	Apply(inputs [][]string) ([][]string, error)
}

// Register adds the preprocessing step types to reg.
func Register(reg *serializer.Registry) {
	files := serializer.Schema{
		{Name: "in_files", Kind: serializer.ListKind, Required: true},
		{Name: "out_files", Kind: serializer.ListKind, Required: true},
	}
	reg.Register(&serializer.TypeDef{
		Name:   "Normalize",
		Schema: append(append(serializer.Schema{}, files...), serializer.Field{Name: "lowercase", Kind: serializer.Bool, Default: true}),
		New:    newNormalize,
	})
	reg.Register(&serializer.TypeDef{
		Name:   "Tokenize",
		Schema: append(serializer.Schema{}, files...),
		New:    newTokenize,
	})
	reg.Register(&serializer.TypeDef{
		Name: "FilterLength",
		Schema: append(append(serializer.Schema{}, files...),
			serializer.Field{Name: "min_len", Kind: serializer.Int, Default: 1},
			serializer.Field{Name: "max_len", Kind: serializer.Int, Default: 80},
		),
		New: newFilterLength,
	})
}

// Preprocessor runs the preproc stage.
type Preprocessor struct{}

// Preprocess applies every configured step in order. Steps whose outputs
// all exist are skipped unless overwrite is set.
func (Preprocessor) Preprocess(ctx context.Context, args options.Values) error {
	logger := ctxlog.FromContext(ctx)
	overwrite, err := args.Bool("overwrite")
	if err != nil {
		return err
	}
	specs, _ := args.Get("preproc_specs")
	list, _ := specs.([]any)

	for i, raw := range list {
		step, ok := raw.(Step)
		if !ok {
			return errors.Errorf("preproc_specs[%d]: expected a preprocessing step, got %T", i, raw)
		}
		if !overwrite && allExist(step.Outputs()) {
			logger.Info("Skipping preprocessing step, outputs exist.", "step", i, "outputs", step.Outputs())
			continue
		}
		if err := run(step); err != nil {
			return errors.Wrapf(err, "preproc_specs[%d]", i)
		}
		logger.Info("Preprocessing step finished.", "step", i, "outputs", step.Outputs())
	}
	return nil
}

func run(step Step) error {
	inputs := make([][]string, len(step.Inputs()))
	for i, path := range step.Inputs() {
		lines, err := readLines(path)
		if err != nil {
			return err
		}
		inputs[i] = lines
	}
	outputs, err := step.Apply(inputs)
	if err != nil {
		return err
	}
	for i, path := range step.Outputs() {
		if err := writeLines(path, outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.Wrapf(scanner.Err(), "failed to read %s", path)
}

func writeLines(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return errors.Wrapf(os.WriteFile(path, []byte(b.String()), 0644), "failed to write %s", path)
}

type files struct {
	in  []string
	out []string
}

func (f files) Inputs() []string  { return f.in }
func (f files) Outputs() []string { return f.out }

func newFiles(args options.Values) (files, error) {
	in, err := args.Strings("in_files")
	if err != nil {
		return files{}, err
	}
	out, err := args.Strings("out_files")
	if err != nil {
		return files{}, err
	}
	if len(in) != len(out) {
		return files{}, errors.Errorf("in_files has %d entries but out_files has %d", len(in), len(out))
	}
	return files{in: in, out: out}, nil
}

// Normalize trims whitespace runs and optionally lowercases.
type Normalize struct {
	files
	Lowercase bool
}

func newNormalize(args options.Values, _ *params.Context) (any, error) {
	f, err := newFiles(args)
	if err != nil {
		return nil, err
	}
	lower, err := args.Bool("lowercase")
	if err != nil {
		return nil, err
	}
	return &Normalize{files: f, Lowercase: lower}, nil
}

func (n *Normalize) Apply(inputs [][]string) ([][]string, error) {
	out := make([][]string, len(inputs))
	for i, lines := range inputs {
		out[i] = make([]string, len(lines))
		for j, l := range lines {
			l = strings.Join(strings.Fields(l), " ")
			if n.Lowercase {
				l = strings.ToLower(l)
			}
			out[i][j] = l
		}
	}
	return out, nil
}

// Tokenize separates punctuation from words.
type Tokenize struct {
	files
}

func newTokenize(args options.Values, _ *params.Context) (any, error) {
	f, err := newFiles(args)
	if err != nil {
		return nil, err
	}
	return &Tokenize{files: f}, nil
}

func (t *Tokenize) Apply(inputs [][]string) ([][]string, error) {
	out := make([][]string, len(inputs))
	for i, lines := range inputs {
		out[i] = make([]string, len(lines))
		for j, l := range lines {
			out[i][j] = strings.Join(tokenize(l), " ")
		}
	}
	return out, nil
}

const punctuation = ".,!?;:\"()[]{}"

func tokenize(line string) []string {
	var toks []string
	for _, word := range strings.Fields(line) {
		start := 0
		for i, r := range word {
			if strings.ContainsRune(punctuation, r) {
				if i > start {
					toks = append(toks, word[start:i])
				}
				toks = append(toks, string(r))
				start = i + len(string(r))
			}
		}
		if start < len(word) {
			toks = append(toks, word[start:])
		}
	}
	return toks
}

// FilterLength drops aligned lines where any side is outside the length
// bounds. All input files must have the same number of lines.
type FilterLength struct {
	files
	MinLen int
	MaxLen int
}

func newFilterLength(args options.Values, _ *params.Context) (any, error) {
	f, err := newFiles(args)
	if err != nil {
		return nil, err
	}
	minLen, err := args.Int("min_len")
	if err != nil {
		return nil, err
	}
	maxLen, err := args.Int("max_len")
	if err != nil {
		return nil, err
	}
	return &FilterLength{files: f, MinLen: minLen, MaxLen: maxLen}, nil
}

func (fl *FilterLength) Apply(inputs [][]string) ([][]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	n := len(inputs[0])
	for i, lines := range inputs {
		if len(lines) != n {
			return nil, errors.Errorf("%s has %d lines, expected %d", fl.in[i], len(lines), n)
		}
	}
	out := make([][]string, len(inputs))
	for j := 0; j < n; j++ {
		keep := true
		for _, lines := range inputs {
			l := len(strings.Fields(lines[j]))
			if l < fl.MinLen || (fl.MaxLen > 0 && l > fl.MaxLen) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		for i, lines := range inputs {
			out[i] = append(out[i], lines[j])
		}
	}
	return out, nil
}
