package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/xnmt/internal/components"
	"github.com/mpataki/xnmt/internal/evaluate"
	"github.com/mpataki/xnmt/internal/models"
	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/serializer"
	"github.com/mpataki/xnmt/internal/spec"
	"github.com/mpataki/xnmt/internal/storage"
)

// fakeTrainer stands in for a training regimen.
type fakeTrainer struct {
	fail     bool
	ectx     *params.Context
	epochs   int
	decode   options.Values
	evaluate options.Values
}

func (f *fakeTrainer) RunEpochs(_ context.Context, n int) error {
	if f.fail {
		return errors.New("training exploded")
	}
	f.epochs += n
	return nil
}

func (f *fakeTrainer) Context() *params.Context { return f.ectx }

func (f *fakeTrainer) SetStageArgs(decode, evaluate options.Values) {
	f.decode = decode
	f.evaluate = evaluate
}

type fakePreprocessor struct {
	calls []options.Values
}

func (p *fakePreprocessor) Preprocess(_ context.Context, args options.Values) error {
	p.calls = append(p.calls, args)
	return nil
}

type fakeDecoder struct {
	calls   []options.Values
	trained []any
}

func (d *fakeDecoder) Decode(_ context.Context, trained any, args options.Values) error {
	d.calls = append(d.calls, args)
	d.trained = append(d.trained, trained)
	return nil
}

type fakeEvaluator struct {
	metrics []string
	args    []options.Values
	fail    string
}

func (e *fakeEvaluator) Evaluate(_ context.Context, args options.Values) (evaluate.Score, error) {
	metric, _ := args.String("evaluator")
	e.metrics = append(e.metrics, metric)
	e.args = append(e.args, args)
	if metric == e.fail {
		return nil, errors.New("metric unavailable")
	}
	return evaluate.NewScore(metric, float64(len(e.metrics))/10, metric != "wer"), nil
}

type harness struct {
	dir       string
	trainers  []*fakeTrainer
	preproc   *fakePreprocessor
	decoder   *fakeDecoder
	evaluator *fakeEvaluator
	opts      *options.Registry
	types     *serializer.Registry
	stdout    *bytes.Buffer
	store     *storage.Storage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:       t.TempDir(),
		preproc:   &fakePreprocessor{},
		decoder:   &fakeDecoder{},
		evaluator: &fakeEvaluator{},
		opts:      NewOptionRegistry(),
		types:     serializer.NewRegistry(),
		stdout:    &bytes.Buffer{},
	}
	h.types.Register(&serializer.TypeDef{
		Name:   "FakeTrainer",
		Schema: serializer.Schema{{Name: "fail", Kind: serializer.Bool, Default: false}},
		New: func(args options.Values, ectx *params.Context) (any, error) {
			fail, err := args.Bool("fail")
			if err != nil {
				return nil, err
			}
			tr := &fakeTrainer{fail: fail, ectx: ectx}
			h.trainers = append(h.trainers, tr)
			return tr, nil
		},
	})
	h.types.Register(&serializer.TypeDef{
		Name: "NotATrainer",
		New: func(options.Values, *params.Context) (any, error) {
			return struct{}{}, nil
		},
	})
	return h
}

// load writes cfg to a file, with {dir} replaced by the harness directory.
func (h *harness) load(t *testing.T, cfg string) *spec.Document {
	t.Helper()
	path := filepath.Join(h.dir, "config.yaml")
	cfg = strings.ReplaceAll(cfg, "{dir}", h.dir)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))

	loader := &spec.Loader{
		Tasks:   h.opts.TaskNames(),
		Schemas: h.types,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	}
	doc, err := loader.Load(path)
	require.NoError(t, err)
	return doc
}

func (h *harness) orchestrator() *Orchestrator {
	return h.orchestratorWith("")
}

func (h *harness) orchestratorWith(scriptDir string) *Orchestrator {
	return New(Config{
		ScriptDir:    scriptDir,
		Storage:      h.store,
		Options:      h.opts,
		Types:        h.types,
		Preprocessor: h.preproc,
		Decoder:      h.decoder,
		Evaluator:    h.evaluator,
		Stdout:       h.stdout,
		Stderr:       io.Discard,
	})
}

// files puts every per-experiment output under {dir}.
const files = `
    model_file: "{dir}/<EXP>.mod"
    hyp_file: "{dir}/<EXP>.hyp"
    out_file: "{dir}/<EXP>.out"
    err_file: "{dir}/<EXP>.err"`

func TestRun_TwoMetricsDecodeOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    run_for_epochs: 2
    eval_metrics: "BLEU, wer"
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NoError(t, res.Err)
	assert.True(t, res.Evaluated)
	require.Len(t, res.Scores, 2)
	assert.Equal(t, "bleu", res.Scores[0].Metric())
	assert.Equal(t, "wer", res.Scores[1].Metric())
	assert.Equal(t, []string{"bleu", "wer"}, h.evaluator.metrics)

	require.Len(t, h.decoder.calls, 1, "decoding runs once for all metrics")
	assert.Equal(t, filepath.Join(h.dir, "exp1.hyp"), h.decoder.calls[0]["trg_file"])
	assert.Equal(t, "test.src", h.decoder.calls[0]["src_file"])

	require.Len(t, h.trainers, 1)
	tr := h.trainers[0]
	assert.Same(t, tr, h.decoder.trained[0])
	assert.Equal(t, 2, tr.epochs)
	assert.Equal(t, filepath.Join(h.dir, "exp1.mod"), tr.ectx.Params.ModelFile())
	assert.Equal(t, filepath.Join(h.dir, "exp1.hyp"), tr.evaluate["hyp_file"])
	assert.Equal(t, "test.ref", tr.evaluate["ref_file"])

	out := h.stdout.String()
	assert.Contains(t, out, "=> Running exp1")
	assert.Contains(t, out, "> Preprocessing")
	assert.Contains(t, out, "> Training")
	assert.Contains(t, out, "  BLEU: ")

	mirrored, err := os.ReadFile(filepath.Join(h.dir, "exp1.out"))
	require.NoError(t, err)
	assert.Contains(t, string(mirrored), "> Training")
	assert.Contains(t, string(mirrored), "WER: ")
}

func TestRun_EmptyMetricsSkipDecodeAndEvaluate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.False(t, results[0].Evaluated)
	assert.Empty(t, results[0].Scores)
	assert.Empty(t, h.decoder.calls)
	assert.Empty(t, h.evaluator.metrics)
	assert.Equal(t, []string{"Not evaluated"}, results[0].Rows())
}

func TestRun_FailedExperimentDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
a_first:
  experiment:`+files+`
    run_for_epochs: 1
  train: !FakeTrainer
    fail: true
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
b_second:
  experiment:`+files+`
    run_for_epochs: 1
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a_first", results[0].Name)
	var stageErr *StageError
	require.True(t, errors.As(results[0].Err, &stageErr))
	assert.Equal(t, models.StageTraining, stageErr.Stage)
	assert.Contains(t, results[0].Rows()[0], "FAILED: ")
	assert.Contains(t, results[0].Rows()[0], "training exploded")

	assert.Equal(t, "b_second", results[1].Name)
	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Scores, 1)
	assert.Equal(t, "bleu", results[1].Scores[0].Metric())
	assert.Len(t, h.decoder.calls, 1)

	// The failing experiment's output files are closed and complete.
	_, err = os.Stat(filepath.Join(h.dir, "a_first.err"))
	assert.NoError(t, err)
}

func TestRun_RequestedExperimentMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:
    run_for_epochs: 1
  train: !FakeTrainer {}
`)

	_, err := h.orchestrator().Run(context.Background(), doc, []string{"exp1", "ghost", "phantom"})
	require.Error(t, err)
	var nf *ExperimentNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"ghost", "phantom"}, nf.Names)
	assert.Equal(t, "experiments ghost,phantom do not exist", err.Error())

	assert.Empty(t, h.preproc.calls, "nothing runs")
	assert.Empty(t, h.trainers)
	assert.Contains(t, doc.Experiments, "exp1")
}

func TestRun_RequestedSubsetIsDedupedAndRemoved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
b:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
a:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
c:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
`)

	results, err := h.orchestrator().Run(context.Background(), doc, []string{"c", "a", "c"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Name)
	assert.Equal(t, "c", results[1].Name)

	assert.Equal(t, []string{"b"}, doc.Names(), "experiments that ran are dropped from the document")
}

func TestRun_DefaultsExpandPlaceholder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:
    out_file: "{dir}/<EXP>.out"
    err_file: "{dir}/<EXP>.err"
    run_for_epochs: 1
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	require.Len(t, h.trainers, 1)
	assert.Equal(t, "exp1.mod", h.trainers[0].ectx.Params.ModelFile())
	assert.Equal(t, "exp1.hyp", h.decoder.calls[0]["trg_file"])
	assert.Equal(t, []string{"bleu"}, h.evaluator.metrics, "bleu is the default metric")
}

func TestRun_ScriptDirFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: bleu
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
exp2:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: bleu
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
    script_dir: own/metrics
`)

	_, err := h.orchestratorWith("shared/metrics").Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, h.evaluator.args, 2)
	assert.Equal(t, "shared/metrics", h.evaluator.args[0]["script_dir"])
	assert.Equal(t, "own/metrics", h.evaluator.args[1]["script_dir"])
}

func TestRun_StrictValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     string
		wantErr any
	}{
		{
			name: "unknown experiment option",
			cfg: `
exp1:
  experiment:
    run_for_epochs: 1
    learning_rate: 0.1
  train: !FakeTrainer {}
`,
			wantErr: &options.UnknownOptionError{},
		},
		{
			name: "missing epochs",
			cfg: `
exp1:
  experiment:
    eval_metrics: ""
  train: !FakeTrainer {}
`,
			wantErr: &options.MissingOptionError{},
		},
		{
			name: "missing decode source",
			cfg: `
exp1:
  experiment:
    run_for_epochs: 1
  train: !FakeTrainer {}
  evaluate:
    ref_file: test.ref
`,
			wantErr: &options.MissingOptionError{},
		},
		{
			name: "wrong type",
			cfg: `
exp1:
  experiment:
    run_for_epochs: many
  train: !FakeTrainer {}
`,
			wantErr: &options.TypeError{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			doc := h.load(t, tc.cfg)

			results, err := h.orchestrator().Run(context.Background(), doc, nil)
			require.NoError(t, err)
			require.Len(t, results, 1)

			var stageErr *StageError
			require.True(t, errors.As(results[0].Err, &stageErr), "got %v", results[0].Err)
			assert.Equal(t, models.StageSetup, stageErr.Stage)
			assert.IsType(t, tc.wantErr, errors.Cause(stageErr.Err))
			assert.Empty(t, h.preproc.calls, "validation happens before preprocessing")
		})
	}
}

func TestRun_EvalOnlySkipsTraining(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    eval_only: true
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 0, h.trainers[0].epochs)
	assert.Len(t, h.decoder.calls, 1)
	assert.NotContains(t, h.stdout.String(), "reverting learned weights")
}

func TestRun_TrainStageMustBeTrainable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
plain:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !NotATrainer {}
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "cannot be trained")
}

func TestRun_EvaluatorFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.evaluator.fail = "wer"
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: bleu,wer
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	var stageErr *StageError
	require.True(t, errors.As(results[0].Err, &stageErr))
	assert.Equal(t, models.StageEvaluating, stageErr.Stage)
	assert.Contains(t, stageErr.Error(), "metric wer")
}

func TestRun_CopiesConfigFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    cfg_file: "{dir}/copies/<EXP>.yaml"
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
`)

	_, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)

	original, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	copied, err := os.ReadFile(filepath.Join(h.dir, "copies", "exp1.yaml"))
	require.NoError(t, err)
	assert.Equal(t, original, copied)
}

func TestRun_RecordsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	store, err := storage.New(filepath.Join(h.dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h.store = store

	doc := h.load(t, `
bad:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer
    fail: true
good:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: bleu,wer
  train: !FakeTrainer
    fail: !RandomParam [false]
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	_, err = h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusPartial, runs[0].Status)
	assert.NotNil(t, runs[0].CompletedAt)

	exps, err := store.GetExperimentsForRun(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, exps, 2)

	assert.Equal(t, "bad", exps[0].Name)
	assert.Equal(t, models.ExpStatusFailed, exps[0].Status)
	assert.Equal(t, models.StageTraining, exps[0].Stage)
	assert.Contains(t, exps[0].Error, "training exploded")

	assert.Equal(t, "good", exps[1].Name)
	assert.Equal(t, models.ExpStatusComplete, exps[1].Status)
	assert.Equal(t, models.StageDone, exps[1].Stage)
	assert.Equal(t, "{train: {fail: false}}", exps[1].RandomSearchReport)
	require.Len(t, exps[1].Scores, 2)
	assert.Equal(t, "bleu", exps[1].Scores[0].Metric)
	assert.Equal(t, "wer", exps[1].Scores[1].Metric)

	rebuilt := RecordedResult(exps[1])
	assert.Equal(t, []string{exps[1].Scores[0].Display, exps[1].Scores[1].Display}, rebuilt.Rows())
	assert.Contains(t, RecordedResult(exps[0]).Rows()[0], "FAILED: ")
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	results := []Result{
		{Name: "exp1", Evaluated: true, Scores: []evaluate.Score{
			evaluate.NewScore("bleu", 0.5, true),
			evaluate.NewScore("wer", 0.25, false),
		}},
		{Name: "exp2", Err: errors.New("boom")},
		{Name: "exp3"},
	}

	var buf bytes.Buffer
	WriteReport(&buf, results)

	want := strings.Join([]string{
		"",
		fmt.Sprintf("%-30s|%-40s", "Experiment", " Final Scores"),
		strings.Repeat("-", 71),
		fmt.Sprintf("%-30s| %-40s", "exp1", "BLEU: 0.5000"),
		fmt.Sprintf("%-30s| %-40s", "", "WER: 0.2500"),
		fmt.Sprintf("%-30s| %-40s", "exp2", "FAILED: boom"),
		fmt.Sprintf("%-30s| %-40s", "exp3", "Not evaluated"),
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestParseEvaluators(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseEvaluators(""))
	assert.Nil(t, parseEvaluators(" , "))
	assert.Equal(t, []string{"bleu", "wer", "bleu"}, parseEvaluators("BLEU, wer,,bleu"))
}

// openHandles counts this process's open descriptors on path.
func openHandles(t *testing.T, path string) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("descriptor table not available")
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	n := 0
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", e.Name()))
		if err == nil && target == path {
			n++
		}
	}
	return n
}

func assertMirrorClosed(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if want != "" {
		assert.Equal(t, want, string(data), path)
	}
	assert.Zero(t, openHandles(t, path), "%s is still open", path)
}

func TestRun_MirrorsClosedOnEveryPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.types.Register(&serializer.TypeDef{
		Name: "Panicky",
		New: func(options.Values, *params.Context) (any, error) {
			panic("constructor blew up")
		},
	})
	doc := h.load(t, `
a_no_eval:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
b_eval_only:
  experiment:`+files+`
    eval_only: true
    eval_metrics: ""
  train: !FakeTrainer {}
c_train_fails:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer
    fail: true
d_panics:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !Panicky {}
e_eval_fails:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: wer
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)
	h.evaluator.fail = "wer"

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)

	out := func(name string) string { return filepath.Join(h.dir, name+".out") }
	errFile := func(name string) string { return filepath.Join(h.dir, name+".err") }

	require.NoError(t, results[0].Err)
	assertMirrorClosed(t, out("a_no_eval"), "> Training\nreverting learned weights to best checkpoint..\n")
	assertMirrorClosed(t, errFile("a_no_eval"), "")
	errLog, err := os.ReadFile(errFile("a_no_eval"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "No evaluators configured")

	require.NoError(t, results[1].Err)
	assertMirrorClosed(t, out("b_eval_only"), "> Training\n")
	assertMirrorClosed(t, errFile("b_eval_only"), "")

	require.Error(t, results[2].Err)
	assertMirrorClosed(t, out("c_train_fails"), "> Training\n")
	assertMirrorClosed(t, errFile("c_train_fails"), "")

	var stageErr *StageError
	require.True(t, errors.As(results[3].Err, &stageErr))
	assert.Equal(t, models.StageTraining, stageErr.Stage)
	assert.Contains(t, stageErr.Error(), "panic: constructor blew up")
	assertMirrorClosed(t, out("d_panics"), "> Training\n")
	assertMirrorClosed(t, errFile("d_panics"), "")

	require.True(t, errors.As(results[4].Err, &stageErr))
	assert.Equal(t, models.StageEvaluating, stageErr.Stage)
	assertMirrorClosed(t, out("e_eval_fails"), "> Training\nreverting learned weights to best checkpoint..\n> Evaluating test set\n")
	assertMirrorClosed(t, errFile("e_eval_fails"), "")
}

func TestRun_ParameterObjectOutsideTrainStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	components.Register(h.types)
	doc := h.load(t, `
a:
  experiment:`+files+`
    run_for_epochs: 1
  train: !FakeTrainer {}
  decode:
    src_file: test.src
    lex: !LexiconTranslator {}
  evaluate:
    ref_file: test.ref
b:
  experiment:`+files+`
    run_for_epochs: 1
  train: !FakeTrainer {}
  decode:
    src_file: test.src
  evaluate:
    ref_file: test.ref
`)

	results, err := h.orchestrator().Run(context.Background(), doc, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var stageErr *StageError
	require.True(t, errors.As(results[0].Err, &stageErr), "got %v", results[0].Err)
	assert.Equal(t, models.StageSetup, stageErr.Stage)
	assert.ErrorIs(t, results[0].Err, components.ErrNoContext)
	assert.Contains(t, results[0].Rows()[0], "FAILED: ")

	require.NoError(t, results[1].Err)
	assert.Len(t, results[1].Scores, 1)
	assert.Len(t, h.decoder.calls, 1)
}

func TestRun_ExperimentLogFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	doc := h.load(t, `
exp1:
  experiment:`+files+`
    run_for_epochs: 1
    eval_metrics: ""
  train: !FakeTrainer {}
`)

	orch := New(Config{
		Options:      h.opts,
		Types:        h.types,
		Preprocessor: h.preproc,
		Stdout:       h.stdout,
		Stderr:       io.Discard,
		LogFormat:    "json",
	})
	_, err := orch.Run(context.Background(), doc, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.dir, "exp1.err"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	require.NotEmpty(t, line)
	assert.True(t, strings.HasPrefix(line, "{"), "got %q", line)
	assert.Contains(t, line, `"experiment":"exp1"`)
	assert.Contains(t, line, `"msg":"No evaluators configured, skipping decoding and evaluation."`)
}
