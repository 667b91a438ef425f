package components

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mpataki/xnmt/internal/ctxlog"
	"github.com/mpataki/xnmt/internal/options"
	"github.com/mpataki/xnmt/internal/params"
	"github.com/mpataki/xnmt/internal/serializer"
)

// SimpleTrainingRegimen trains a model on a bilingual corpus, scoring the
// development set after each epoch and checkpointing the best parameters.
type SimpleTrainingRegimen struct {
	model    Translator
	parser   *BilingualCorpusParser
	corpus   *BilingualCorpus
	devEvery int
	ectx     *params.Context

	// DecodeArgs and EvaluateArgs are attached by the pipeline driver for the
	// decoding and evaluation stages.
	DecodeArgs   options.Values
	EvaluateArgs options.Values

	train  []Pair
	dev    []Pair
	loaded bool
	epochs int
}

var trainingRegimenSchema = serializer.Schema{
	{Name: "model", Kind: serializer.ObjectKind, Required: true},
	{Name: "corpus_parser", Kind: serializer.ObjectKind, Required: true},
	{Name: "training_corpus", Kind: serializer.ObjectKind, Required: true},
	{Name: "dev_every", Kind: serializer.Int, Default: 0},
}

func newTrainingRegimen(args options.Values, ectx *params.Context) (any, error) {
	if ectx == nil || ectx.Params == nil {
		return nil, errors.Wrap(ErrNoContext, "SimpleTrainingRegimen")
	}
	r := &SimpleTrainingRegimen{ectx: ectx}

	model, ok := args["model"].(Translator)
	if !ok {
		return nil, errors.Errorf("model: expected a translation model, got %T", args["model"])
	}
	r.model = model
	if r.parser, ok = args["corpus_parser"].(*BilingualCorpusParser); !ok {
		return nil, errors.Errorf("corpus_parser: expected BilingualCorpusParser, got %T", args["corpus_parser"])
	}
	if r.corpus, ok = args["training_corpus"].(*BilingualCorpus); !ok {
		return nil, errors.Errorf("training_corpus: expected BilingualCorpus, got %T", args["training_corpus"])
	}
	var err error
	if r.devEvery, err = args.Int("dev_every"); err != nil {
		return nil, err
	}
	return r, nil
}

// NewTrainingRegimen assembles a regimen directly.
func NewTrainingRegimen(model Translator, parser *BilingualCorpusParser, corpus *BilingualCorpus, ectx *params.Context) *SimpleTrainingRegimen {
	return &SimpleTrainingRegimen{model: model, parser: parser, corpus: corpus, ectx: ectx}
}

// Model returns the trained model.
func (r *SimpleTrainingRegimen) Model() Translator { return r.model }

// CorpusParser returns the parser used for training data.
func (r *SimpleTrainingRegimen) CorpusParser() *BilingualCorpusParser { return r.parser }

// Context returns the execution context the regimen was built with.
func (r *SimpleTrainingRegimen) Context() *params.Context { return r.ectx }

// SetStageArgs attaches the decode and evaluate arguments.
func (r *SimpleTrainingRegimen) SetStageArgs(decode, evaluate options.Values) {
	r.DecodeArgs = decode
	r.EvaluateArgs = evaluate
}

func (r *SimpleTrainingRegimen) load() error {
	if r.loaded {
		return nil
	}
	var err error
	if r.train, err = r.parser.ReadParallel(r.corpus.TrainSrc, r.corpus.TrainTrg); err != nil {
		return errors.Wrap(err, "failed to read training corpus")
	}
	if r.corpus.HasDev() {
		if r.dev, err = r.parser.ReadParallel(r.corpus.DevSrc, r.corpus.DevTrg); err != nil {
			return errors.Wrap(err, "failed to read dev corpus")
		}
	}
	r.loaded = true
	return nil
}

// RunEpochs trains for n epochs. The dev set is scored every dev_every
// epochs (every epoch when unset) and after the last one; the training
// loss is used when no dev set is configured.
func (r *SimpleTrainingRegimen) RunEpochs(ctx context.Context, n int) error {
	logger := ctxlog.FromContext(ctx)
	if err := r.load(); err != nil {
		return err
	}
	if len(r.train) == 0 {
		return errors.New("training corpus is empty")
	}

	for i := 0; i < n; i++ {
		if err := r.model.TrainEpoch(ctx, r.train); err != nil {
			return errors.Wrapf(err, "epoch %d", r.epochs+1)
		}
		r.epochs++
		trainLoss := r.model.Loss(r.train)
		logger.Info("Epoch finished.", "epoch", r.epochs, "train_loss", trainLoss)

		if r.devEvery > 0 && r.epochs%r.devEvery != 0 && i != n-1 {
			continue
		}
		devLoss := trainLoss
		if len(r.dev) > 0 {
			devLoss = r.model.Loss(r.dev)
		}
		saved, err := r.ectx.Params.Checkpoint(devLoss)
		if err != nil {
			return errors.Wrap(err, "failed to checkpoint")
		}
		logger.Info("Checkpoint scored.", "epoch", r.epochs, "dev_loss", devLoss, "saved", saved)
	}
	return nil
}
