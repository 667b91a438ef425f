// Package orchestrator runs experiments through the preprocess, train,
// decode and evaluate stages, one experiment at a time.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/decode"
	"github.com/mpataki/xnmt/internal/evaluate"
	"github.com/mpataki/xnmt/internal/models"
	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/preproc"
	"github.com/mpataki/xnmt/internal/serializer"
	"github.com/mpataki/xnmt/internal/spec"
	"github.com/mpataki/xnmt/internal/storage"
	"github.com/mpataki/xnmt/internal/workspace"
)

// Preprocessor runs the preprocessing stage.
type Preprocessor interface {
	Preprocess(ctx context.Context, args options.Values) error
}

// Trainer is the object built from an experiment's train stage.
type Trainer interface {
	RunEpochs(ctx context.Context, epochs int) error
	Context() *params.Context
	SetStageArgs(decode, evaluate options.Values)
}

// Decoder runs the decoding stage with a trained object.
type Decoder interface {
	Decode(ctx context.Context, trained any, args options.Values) error
}

// Evaluator runs one metric of the evaluation stage.
type Evaluator interface {
	Evaluate(ctx context.Context, args options.Values) (evaluate.Score, error)
}

// Config wires an Orchestrator. Nil collaborators default to the built-in
// implementations; a nil Storage disables history.
type Config struct {
	Storage      *storage.Storage
	Options      *options.Registry
	Types        *serializer.Registry
	Preprocessor Preprocessor
	Decoder      Decoder
	Evaluator    Evaluator
	Backend      params.BackendSettings
	// ScriptDir is the fallback script_dir of evaluate stages.
	ScriptDir    string
	Stdout       io.Writer
	Stderr       io.Writer
	Logger       *slog.Logger
	LogLevel     slog.Level
	// LogFormat is "text" or "json" for the per-experiment logs.
	LogFormat    string
}

type Orchestrator struct {
	storage   *storage.Storage
	options   *options.Registry
	types     *serializer.Registry
	preproc   Preprocessor
	decoder   Decoder
	evaluator Evaluator
	backend   params.BackendSettings
	scriptDir string
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
	logLevel  slog.Level
	logFormat string
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		storage:   cfg.Storage,
		options:   cfg.Options,
		types:     cfg.Types,
		preproc:   cfg.Preprocessor,
		decoder:   cfg.Decoder,
		evaluator: cfg.Evaluator,
		backend:   cfg.Backend,
		scriptDir: cfg.ScriptDir,
		stdout:    cfg.Stdout,
		stderr:    cfg.Stderr,
		logger:    cfg.Logger,
		logLevel:  cfg.LogLevel,
		logFormat: cfg.LogFormat,
	}
	if o.options == nil {
		o.options = NewOptionRegistry()
	}
	if o.types == nil {
		o.types = NewTypeRegistry()
	}
	if o.preproc == nil {
		o.preproc = preproc.Preprocessor{}
	}
	if o.decoder == nil {
		o.decoder = decode.Decoder{}
	}
	if o.evaluator == nil {
		o.evaluator = evaluate.Evaluator{}
	}
	if o.stdout == nil {
		o.stdout = os.Stdout
	}
	if o.stderr == nil {
		o.stderr = os.Stderr
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Result is the outcome of one experiment.
type Result struct {
	Name      string
	Scores    []evaluate.Score
	Evaluated bool
	Err       error
}

// Rows returns the score column of the final report for this experiment.
func (r Result) Rows() []string {
	switch {
	case r.Err != nil:
		return []string{"FAILED: " + r.Err.Error()}
	case !r.Evaluated:
		return []string{"Not evaluated"}
	}
	rows := make([]string, len(r.Scores))
	for i, s := range r.Scores {
		rows[i] = s.String()
	}
	return rows
}

// RecordedResult rebuilds a Result from an experiment's history record.
func RecordedResult(exp *models.Experiment) Result {
	res := Result{Name: exp.Name, Evaluated: len(exp.Scores) > 0}
	if exp.Status == models.ExpStatusFailed {
		msg := exp.Error
		if msg == "" {
			msg = "failed in " + string(exp.Stage)
		}
		res.Err = errors.New(msg)
	}
	for _, sc := range exp.Scores {
		res.Scores = append(res.Scores, recordedScore{sc})
	}
	return res
}

type recordedScore struct {
	score models.Score
}

func (r recordedScore) Metric() string { return r.score.Metric }
func (r recordedScore) Value() float64 { return r.score.Value }
func (r recordedScore) String() string { return r.score.Display }

func (r recordedScore) HigherIsBetter() bool {
	return r.score.Metric != "wer" && r.score.Metric != "cer"
}

// Run executes the requested experiments, or all of them when none are
// requested, in sorted order. Each experiment is removed from doc once it
// has run. A failing experiment does not stop the others.
func (o *Orchestrator) Run(ctx context.Context, doc *spec.Document, requested []string) ([]Result, error) {
	names, err := selectExperiments(doc, requested)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		ConfigPath: doc.Path,
		Requested:  requested,
		Status:     models.RunStatusRunning,
	}
	if o.storage != nil {
		runID, err := o.storage.CreateRun(run)
		if err != nil {
			return nil, errors.Wrap(err, "failed to record run")
		}
		run.ID = runID
	}

	results := make([]Result, 0, len(names))
	failed := 0
	for i, name := range names {
		res := o.runExperiment(ctx, run.ID, i+1, doc.Experiments[name], doc.Path)
		if res.Err != nil {
			failed++
			o.logger.Error("Experiment failed.", "experiment", name, "error", res.Err)
		}
		results = append(results, res)
		delete(doc.Experiments, name)
	}

	now := time.Now()
	run.CompletedAt = &now
	switch {
	case failed == 0:
		run.Status = models.RunStatusComplete
	case failed == len(names):
		run.Status = models.RunStatusFailed
	default:
		run.Status = models.RunStatusPartial
	}
	if o.storage != nil {
		if err := o.storage.UpdateRun(run); err != nil {
			o.logger.Warn("Failed to record run completion.", "run", run.ID, "error", err)
		}
	}
	return results, nil
}

func selectExperiments(doc *spec.Document, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return doc.Names(), nil
	}
	seen := make(map[string]bool, len(requested))
	var names, missing []string
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := doc.Experiments[name]; !ok {
			missing = append(missing, name)
			continue
		}
		names = append(names, name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ExperimentNotFoundError{Names: missing}
	}
	sort.Strings(names)
	return names, nil
}

// experimentRun carries the state of one experiment through its stages.
type experimentRun struct {
	exp      *spec.Experiment
	record   *models.Experiment
	ws       *workspace.Workspace
	expArgs  options.Values
	decode   options.Values
	evaluate options.Values
	trainer  Trainer
	result   *Result
}

func (o *Orchestrator) runExperiment(ctx context.Context, runID int64, seq int, exp *spec.Experiment, cfgPath string) Result {
	result := Result{Name: exp.Name}
	now := time.Now()
	record := &models.Experiment{
		RunID:       runID,
		Name:        exp.Name,
		Status:      models.ExpStatusRunning,
		Stage:       models.StageSetup,
		SequenceNum: seq,
		StartedAt:   &now,
	}
	if exp.RandomSearchReport != nil {
		record.RandomSearchReport = exp.RandomSearchReport.String()
	}
	if o.storage != nil {
		id, err := o.storage.CreateExperiment(record)
		if err != nil {
			o.logger.Warn("Failed to record experiment.", "experiment", exp.Name, "error", err)
		}
		record.ID = id
	}

	fmt.Fprintf(o.stdout, "=> Running %s\n", exp.Name)

	er := &experimentRun{exp: exp, record: record, result: &result}
	err := o.safeExecute(ctx, er, cfgPath)
	if er.ws != nil {
		if cerr := er.ws.Close(); cerr != nil && err == nil {
			err = &StageError{Experiment: exp.Name, Stage: models.StageDone, Err: cerr}
		}
	}

	done := time.Now()
	record.CompletedAt = &done
	if err != nil {
		result.Err = err
		record.Status = models.ExpStatusFailed
		record.Error = err.Error()
	} else {
		record.Status = models.ExpStatusComplete
		record.Stage = models.StageDone
	}
	o.recordExperiment(record)
	return result
}

// safeExecute runs execute and turns a panic in a collaborator into a
// failure of the current stage.
func (o *Orchestrator) safeExecute(ctx context.Context, er *experimentRun, cfgPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Experiment panicked.", "experiment", er.exp.Name, "stage", er.record.Stage, "panic", r)
			err = &StageError{Experiment: er.exp.Name, Stage: er.record.Stage, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	return o.execute(ctx, er, cfgPath)
}

func (o *Orchestrator) experimentLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: o.logLevel}
	if o.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (o *Orchestrator) execute(ctx context.Context, er *experimentRun, cfgPath string) error {
	name := er.exp.Name
	fail := func(stage models.Stage, err error) error {
		return &StageError{Experiment: name, Stage: stage, Err: err}
	}

	if err := o.resolveArgs(er); err != nil {
		return fail(models.StageSetup, err)
	}
	if cfgFile, _ := er.expArgs.String("cfg_file"); cfgFile != "" && cfgPath != "" {
		if err := workspace.CopyConfig(cfgPath, cfgFile); err != nil {
			return fail(models.StageSetup, err)
		}
	}

	// Preprocessing
	o.enterStage(er, models.StagePreprocessing)
	fmt.Fprintln(o.stdout, "> Preprocessing")
	preprocArgs, err := o.stageValues(er.exp, TaskPreproc)
	if err == nil {
		err = o.options.ApplyDefaults(TaskPreproc, preprocArgs)
	}
	if err == nil {
		err = o.options.Validate(TaskPreproc, preprocArgs)
	}
	if err != nil {
		return fail(models.StagePreprocessing, err)
	}
	if err := o.preproc.Preprocess(ctxlog.WithLogger(ctx, o.logger.With("experiment", name)), preprocArgs); err != nil {
		return fail(models.StagePreprocessing, err)
	}

	// Training
	o.enterStage(er, models.StageTraining)
	files := workspace.Files{}
	files.OutFile, _ = er.expArgs.String("out_file")
	files.ErrFile, _ = er.expArgs.String("err_file")
	ws, err := workspace.Create(files, o.stdout, o.stderr)
	if err != nil {
		return fail(models.StageTraining, err)
	}
	er.ws = ws
	logger := o.experimentLogger(ws.Stderr).With("experiment", name)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := o.train(ctx, er); err != nil {
		return fail(models.StageTraining, err)
	}

	metrics, _ := er.expArgs.String("eval_metrics")
	evaluators := parseEvaluators(metrics)
	if len(evaluators) == 0 {
		logger.Info("No evaluators configured, skipping decoding and evaluation.")
		return nil
	}

	// Decoding
	o.enterStage(er, models.StageDecoding)
	ws.Printf("> Evaluating test set\n")
	ws.Indent(2)
	defer ws.Indent(-2)
	if err := o.decoder.Decode(ctx, er.trainer, er.decode.Clone()); err != nil {
		return fail(models.StageDecoding, err)
	}

	// Evaluating
	o.enterStage(er, models.StageEvaluating)
	er.result.Evaluated = true
	for i, metric := range evaluators {
		args := er.evaluate.Clone()
		args["evaluator"] = metric
		score, err := o.evaluator.Evaluate(ctx, args)
		if err != nil {
			return fail(models.StageEvaluating, errors.Wrapf(err, "metric %s", metric))
		}
		ws.Printf("%s\n", score)
		er.result.Scores = append(er.result.Scores, score)
		if o.storage != nil && er.record.ID != 0 {
			err := o.storage.AddScore(er.record.ID, models.Score{
				Metric:      score.Metric(),
				Value:       score.Value(),
				Display:     score.String(),
				SequenceNum: i + 1,
			})
			if err != nil {
				logger.Warn("Failed to record score.", "metric", metric, "error", err)
			}
		}
	}
	return nil
}

// resolveArgs fills and validates the experiment, decode and evaluate
// arguments before any stage runs.
func (o *Orchestrator) resolveArgs(er *experimentRun) error {
	name := er.exp.Name
	expArgs, err := o.stageValues(er.exp, TaskExperiment)
	if err != nil {
		return err
	}
	if err := o.options.ApplyDefaults(TaskExperiment, expArgs); err != nil {
		return err
	}
	for k, v := range expArgs {
		if s, ok := v.(string); ok {
			expArgs[k] = strings.ReplaceAll(s, spec.PlaceholderToken, name)
		}
	}
	var skip []string
	if evalOnly, _ := expArgs.Bool("eval_only"); evalOnly {
		skip = append(skip, "run_for_epochs")
	}
	if err := o.options.Validate(TaskExperiment, expArgs, skip...); err != nil {
		return err
	}
	er.expArgs = expArgs

	hypFile, _ := expArgs.String("hyp_file")
	metrics, _ := expArgs.String("eval_metrics")
	needEval := len(parseEvaluators(metrics)) > 0

	if er.decode, err = o.stageValues(er.exp, TaskDecode); err != nil {
		return err
	}
	er.decode["trg_file"] = hypFile
	if er.evaluate, err = o.stageValues(er.exp, TaskEvaluate); err != nil {
		return err
	}
	er.evaluate["hyp_file"] = hypFile
	if dir, _ := er.evaluate.String("script_dir"); dir == "" && o.scriptDir != "" {
		er.evaluate["script_dir"] = o.scriptDir
	}

	for _, task := range []string{TaskDecode, TaskEvaluate} {
		vals := er.decode
		if task == TaskEvaluate {
			vals = er.evaluate
		}
		if err := o.options.ApplyDefaults(task, vals); err != nil {
			return err
		}
		if !needEval {
			continue
		}
		if err := o.options.Validate(task, vals); err != nil {
			return err
		}
	}
	return nil
}

// stageValues initializes a stage's mapping into plain values. Typed
// objects inside it are constructed without an execution context.
func (o *Orchestrator) stageValues(exp *spec.Experiment, task string) (options.Values, error) {
	val, err := o.types.Initialize(exp.Stage(task), nil)
	if err != nil {
		return nil, err
	}
	vals, ok := val.(options.Values)
	if !ok {
		return nil, errors.Errorf("%s stage must be a mapping, got %T", task, val)
	}
	return vals, nil
}

func (o *Orchestrator) train(ctx context.Context, er *experimentRun) error {
	ws := er.ws
	if er.exp.RandomSearchReport != nil {
		ws.Printf("> instantiated random parameter search: %s\n", er.exp.RandomSearchReport)
	}
	ws.Printf("> Training\n")

	modelFile, _ := er.expArgs.String("model_file")
	ectx := params.NewContext(modelFile, o.backend)

	if _, ok := er.exp.Stage(TaskTrain).(*spec.Object); !ok {
		return errors.New("train stage must be a typed object")
	}
	built, err := o.types.InitializeInPlace(er.exp.Stages, TaskTrain, ectx)
	if err != nil {
		return err
	}
	trainer, ok := built.(Trainer)
	if !ok {
		return errors.Errorf("train stage built %T, which cannot be trained", built)
	}
	trainer.SetStageArgs(er.decode.Clone(), er.evaluate.Clone())
	er.trainer = trainer

	if evalOnly, _ := er.expArgs.Bool("eval_only"); evalOnly {
		if _, err := os.Stat(modelFile); err == nil {
			if err := trainer.Context().Params.Load(); err != nil {
				return err
			}
		} else {
			ctxlog.FromContext(ctx).Warn("Evaluating without a saved model.", "model_file", modelFile)
		}
		return nil
	}

	epochs, _ := er.expArgs.Int("run_for_epochs")
	if err := trainer.RunEpochs(ctx, epochs); err != nil {
		return err
	}
	ws.Printf("reverting learned weights to best checkpoint..\n")
	return trainer.Context().Params.RevertToBest()
}

func (o *Orchestrator) enterStage(er *experimentRun, stage models.Stage) {
	er.record.Stage = stage
	o.recordExperiment(er.record)
}

func (o *Orchestrator) recordExperiment(record *models.Experiment) {
	if o.storage == nil || record.ID == 0 {
		return
	}
	if err := o.storage.UpdateExperiment(record); err != nil {
		o.logger.Warn("Failed to update experiment record.", "experiment", record.Name, "error", err)
	}
}

// parseEvaluators splits a comma-separated metric list. Names are
// lowercased; empty entries are dropped, so "" means no evaluators.
func parseEvaluators(metrics string) []string {
	var out []string
	for _, m := range strings.Split(metrics, ",") {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// WriteReport prints the final two-column score table.
func WriteReport(w io.Writer, results []Result) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%-30s|%-40s\n", "Experiment", " Final Scores")
	fmt.Fprintln(w, strings.Repeat("-", 71))
	for _, res := range results {
		for i, row := range res.Rows() {
			name := ""
			if i == 0 {
				name = res.Name
			}
			fmt.Fprintf(w, "%-30s| %-40s\n", name, row)
		}
	}
}
