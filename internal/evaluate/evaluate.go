// Package evaluate scores decoded hypotheses against references.
package evaluate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/lua"
	"github.com/mpataki/xnmt/internal/options"
)

// Options are the arguments accepted by the evaluate task.
func Options() []options.Option {
	return []options.Option{
		options.New("ref_file", options.String, options.Help("Path of the reference file")),
		options.New("hyp_file", options.String, options.Required(false),
			options.Help("Path of the hypothesis file (set to the experiment's hyp_file)")),
		options.New("evaluator", options.String, options.WithDefault("bleu"),
			options.Help("Evaluation metric (set per metric from the experiment's eval_metrics)")),
		options.New("script_dir", options.String, options.WithDefault(""),
			options.Help("Directory holding <metric>.lua scripts for custom metrics")),
		options.New("lowercase", options.Bool, options.WithDefault(false),
			options.Help("Lowercase hypotheses and references before scoring")),
	}
}

// Score is the result of one metric.
type Score interface {
	Metric() string
	Value() float64
	HigherIsBetter() bool
	String() string
}

type score struct {
	metric string
	value  float64
	higher bool
	detail string
}

func (s *score) Metric() string       { return s.metric }
func (s *score) Value() float64       { return s.value }
func (s *score) HigherIsBetter() bool { return s.higher }

func (s *score) String() string {
	if s.detail != "" {
		return fmt.Sprintf("%s: %.4f (%s)", strings.ToUpper(s.metric), s.value, s.detail)
	}
	return fmt.Sprintf("%s: %.4f", strings.ToUpper(s.metric), s.value)
}

// NewScore builds a plain score.
func NewScore(metric string, value float64, higherIsBetter bool) Score {
	return &score{metric: metric, value: value, higher: higherIsBetter}
}

// Evaluator runs the evaluate stage.
type Evaluator struct{}

// Evaluate scores hyp_file against ref_file with the configured evaluator.
func (Evaluator) Evaluate(ctx context.Context, args options.Values) (Score, error) {
	metric, err := args.String("evaluator")
	if err != nil {
		return nil, err
	}
	metric = strings.ToLower(strings.TrimSpace(metric))
	if metric == "" {
		return nil, errors.New("no evaluator given")
	}
	refFile, err := args.String("ref_file")
	if err != nil {
		return nil, err
	}
	hypFile, err := args.String("hyp_file")
	if err != nil {
		return nil, err
	}
	lower, err := args.Bool("lowercase")
	if err != nil {
		return nil, err
	}
	scriptDir, err := args.String("script_dir")
	if err != nil {
		return nil, err
	}

	refs, err := readTokens(refFile, lower)
	if err != nil {
		return nil, err
	}
	hyps, err := readTokens(hypFile, lower)
	if err != nil {
		return nil, err
	}
	if len(refs) != len(hyps) {
		return nil, errors.Errorf("%s has %d lines but %s has %d", hypFile, len(hyps), refFile, len(refs))
	}

	var s Score
	switch metric {
	case "bleu":
		s = BLEU(hyps, refs)
	case "wer":
		s = WER(hyps, refs)
	case "cer":
		s = CER(hyps, refs)
	default:
		if !lua.IsMetricScript(scriptDir, metric) {
			return nil, errors.Errorf("unknown evaluator %q", metric)
		}
		m := lua.NewMetric(metric, lua.ScriptPath(scriptDir, metric))
		value, higher, err := m.Evaluate(ctx, hyps, refs)
		if err != nil {
			return nil, err
		}
		s = NewScore(metric, value, higher)
	}
	ctxlog.FromContext(ctx).Info("Evaluation finished.", "metric", metric, "score", s.Value())
	return s, nil
}

func readTokens(path string, lower bool) ([][]string, error) {
	if path == "" {
		return nil, errors.New("file path is not set")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	var out [][]string
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if lower {
			line = strings.ToLower(line)
		}
		out = append(out, strings.Fields(line))
	}
	return out, errors.Wrapf(scanner.Err(), "failed to read %s", path)
}
