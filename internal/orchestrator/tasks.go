package orchestrator

import (
	"github.com/mpataki/xnmt/internal/components"
	"github.com/mpataki/xnmt/internal/decode"
	"github.com/mpataki/xnmt/internal/evaluate"
	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/preproc"
	"github.com/mpataki/xnmt/internal/serializer"
)

// Task names, in pipeline order.
const (
	TaskExperiment = "experiment"
	TaskPreproc    = "preproc"
	TaskTrain      = "train"
	TaskDecode     = "decode"
	TaskEvaluate   = "evaluate"
)

// ExperimentOptions are the options of the experiment task.
func ExperimentOptions() []options.Option {
	return []options.Option{
		options.New("model_file", options.String, options.WithDefault("<EXP>.mod"),
			options.Help("Location to write the model file")),
		options.New("hyp_file", options.String, options.WithDefault("<EXP>.hyp"),
			options.Help("Location to write decoded output for evaluation")),
		options.New("out_file", options.String, options.WithDefault("<EXP>.out"),
			options.Help("Location to write stdout messages")),
		options.New("err_file", options.String, options.WithDefault("<EXP>.err"),
			options.Help("Location to write stderr messages")),
		options.New("cfg_file", options.String, options.Required(false),
			options.Help("Location to write a copy of the YAML configuration file")),
		options.New("eval_only", options.Bool, options.WithDefault(false),
			options.Help("Skip training and evaluate only")),
		options.New("eval_metrics", options.String, options.WithDefault("bleu"),
			options.Help("Comma-separated list of evaluation metrics (bleu/wer/cer or a Lua script name)")),
		options.New("run_for_epochs", options.Int,
			options.Help("How many epochs to run each test for")),
	}
}

// NewOptionRegistry registers every pipeline task with its options.
func NewOptionRegistry() *options.Registry {
	reg := options.NewRegistry()
	reg.AddTask(TaskExperiment, ExperimentOptions())
	reg.AddTask(TaskPreproc, preproc.Options())
	reg.AddTask(TaskTrain, nil)
	reg.AddTask(TaskDecode, decode.Options())
	reg.AddTask(TaskEvaluate, evaluate.Options())
	return reg
}

// NewTypeRegistry registers every built-in constructible type.
func NewTypeRegistry() *serializer.Registry {
	reg := serializer.NewRegistry()
	components.Register(reg)
	preproc.Register(reg)
	return reg
}
