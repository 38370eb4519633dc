// Package trainer drives optimization of a model over a dataset: the
// training loop with periodic snapshots and logging, the validation pass,
// and sample generation at several temperatures.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/dataset"
	"github.com/scttfrdmn/local-wavenet/device"
)

var (
	// ErrInvalidArgument indicates a rejected parameter value.
	ErrInvalidArgument = errors.New("trainer: invalid argument")

	// ErrEmptyDataset indicates a dataset view with no items.
	ErrEmptyDataset = errors.New("trainer: empty dataset")
)

// Model is the network a Trainer optimizes.
//
// Forward returns the mean cross-entropy of targets under the predictions
// and the batch-major logits, shape (len(targets), classes). In training
// mode it also records what Backward needs to populate gradients.
type Model interface {
	Train()
	Eval()
	Training() bool
	Forward(inputs [][]int, targets []int) (float64, *tensor.Dense, error)
	ZeroGrad()
	Backward() error
	Parameters() []gorgonia.ValueGrad
	Place(device.Device) error
	Save(w io.Writer) error
}

// Result is the outcome of a validation pass.
type Result struct {
	Loss     float64
	Accuracy float64
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger that receives every training step.
func WithLogger(l Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithOptimizer overrides the optimizer selected by Config.Optimizer.
func WithOptimizer(f OptimizerFactory) Option {
	return func(t *Trainer) { t.newOptimizer = f }
}

// WithClock replaces the wall clock used for timing and snapshot names.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// Trainer optimizes a model over a dataset.
//
// The optimizer is bound to the model's parameters when the Trainer is
// created; training a different model needs a new Trainer. A Trainer is
// not safe for concurrent use.
type Trainer struct {
	model   Model
	dataset dataset.Dataset
	config  Config

	solver       gorgonia.Solver
	params       []gorgonia.ValueGrad
	newOptimizer OptimizerFactory
	logger       Logger
	now          func() time.Time

	step int
}

// New creates a Trainer and places model on config.Device.
func New(model Model, ds dataset.Dataset, config Config, opts ...Option) (*Trainer, error) {
	if model == nil || ds == nil {
		return nil, fmt.Errorf("%w: model and dataset are required", ErrInvalidArgument)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	t := &Trainer{
		model:   model,
		dataset: ds,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.newOptimizer == nil {
		f, err := NewOptimizer(config)
		if err != nil {
			return nil, err
		}
		t.newOptimizer = f
	}
	if t.logger == nil {
		t.logger = NewIntervalLogger()
	}
	if b, ok := t.logger.(TrainerBinder); ok {
		b.BindTrainer(t)
	}

	if err := model.Place(config.Device); err != nil {
		return nil, fmt.Errorf("place model on %s: %w", config.Device, err)
	}

	solver, err := t.newOptimizer(config.LearningRate, config.WeightDecay)
	if err != nil {
		return nil, fmt.Errorf("create optimizer: %w", err)
	}
	t.solver = solver
	t.params = model.Parameters()
	return t, nil
}

// Model returns the model being trained.
func (t *Trainer) Model() Model { return t.model }

// Config returns the Trainer's configuration.
func (t *Trainer) Config() Config { return t.config }

// Step returns the number of the last completed optimization step.
func (t *Trainer) Step() int { return t.step }

// ===========================================================================
// Training loop
// ===========================================================================

// Train runs epochs passes over the dataset in shuffled batches.
//
// Step numbering starts after continueAtStep. A snapshot is written after
// every step that is a multiple of Config.SnapshotInterval when
// Config.SnapshotPath is set. The first error from the model, optimizer,
// snapshot writer or logger ends training. ctx is checked between batches.
func (t *Trainer) Train(ctx context.Context, batchSize, epochs, continueAtStep int) error {
	switch {
	case batchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrInvalidArgument, batchSize)
	case epochs < 0:
		return fmt.Errorf("%w: epochs %d", ErrInvalidArgument, epochs)
	case continueAtStep < 0:
		return fmt.Errorf("%w: continue at step %d", ErrInvalidArgument, continueAtStep)
	}
	if t.dataset.Len() == 0 {
		return ErrEmptyDataset
	}

	t.model.Train()
	loader, err := dataset.NewLoader(t.dataset, dataset.LoaderConfig{
		BatchSize: batchSize,
		Shuffle:   true,
		Workers:   t.config.Workers,
		Seed:      t.config.Seed,
	})
	if err != nil {
		return err
	}

	t.step = continueAtStep
	for epoch := 0; epoch < epochs; epoch++ {
		slog.Info("epoch", "epoch", epoch, "batches", loader.Len())
		tic := t.now()
		err := loader.Each(ctx, func(b *dataset.Batch) error {
			return t.trainStep(ctx, b, tic)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) trainStep(ctx context.Context, b *dataset.Batch, epochStart time.Time) error {
	targets := b.FlatTargets()

	loss, _, err := t.model.Forward(b.Inputs, targets)
	if err != nil {
		return fmt.Errorf("step %d: forward: %w", t.step+1, err)
	}
	t.model.ZeroGrad()
	if err := t.model.Backward(); err != nil {
		return fmt.Errorf("step %d: backward: %w", t.step+1, err)
	}

	if t.config.GradientClipping > 0 {
		if _, err := clipGradients(t.params, t.config.GradientClipping); err != nil {
			return fmt.Errorf("step %d: clip: %w", t.step+1, err)
		}
	}
	if err := t.solver.Step(t.params); err != nil {
		return fmt.Errorf("step %d: optimizer: %w", t.step+1, err)
	}
	t.step++

	if t.step == 100 {
		perStep := t.now().Sub(epochStart) / 100
		slog.Info("one training step takes approximately", "duration", perStep)
	}

	if t.step%t.config.SnapshotInterval == 0 && t.config.SnapshotPath != "" {
		path, err := t.writeSnapshot()
		if err != nil {
			return fmt.Errorf("step %d: snapshot: %w", t.step, err)
		}
		slog.Info("saved snapshot", "step", t.step, "path", path)
	}

	return t.logger.Log(ctx, t.step, loss)
}

// ===========================================================================
// Validation
// ===========================================================================

// Validate makes one unshuffled pass over the non-training view of ds
// and returns the mean batch loss and the fraction of correctly predicted
// targets.
//
// The model is switched to evaluation mode for the pass; both the model
// and ds are returned to training mode before Validate returns.
func (t *Trainer) Validate(ctx context.Context, ds dataset.Dataset, batchSize int) (Result, error) {
	if ds == nil {
		return Result{}, fmt.Errorf("%w: validation dataset is required", ErrInvalidArgument)
	}
	if batchSize <= 0 {
		return Result{}, fmt.Errorf("%w: batch size %d", ErrInvalidArgument, batchSize)
	}

	t.model.Eval()
	ds.SetTrain(false)
	defer func() {
		ds.SetTrain(true)
		t.model.Train()
	}()

	loader, err := dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: batchSize, Workers: t.config.Workers})
	if err != nil {
		return Result{}, err
	}

	var total float64
	var correct, batches int
	err = loader.Each(ctx, func(b *dataset.Batch) error {
		targets := b.FlatTargets()
		loss, logits, err := t.model.Forward(b.Inputs, targets)
		if err != nil {
			return fmt.Errorf("validation forward: %w", err)
		}

		n, err := countCorrect(logits, targets)
		if err != nil {
			return err
		}
		total += loss
		correct += n
		batches++
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	denominator := ds.Len() * ds.TargetLength()
	if batches == 0 || denominator == 0 {
		return Result{}, ErrEmptyDataset
	}
	return Result{
		Loss:     total / float64(batches),
		Accuracy: float64(correct) / float64(denominator),
	}, nil
}

// countCorrect counts rows of logits whose arg-max equals the target.
func countCorrect(logits *tensor.Dense, targets []int) (int, error) {
	if logits == nil || logits.Dims() != 2 || logits.Shape()[0] != len(targets) {
		return 0, fmt.Errorf("%w: logits do not match %d targets", ErrInvalidArgument, len(targets))
	}
	predictions, err := logits.Argmax(1)
	if err != nil {
		return 0, fmt.Errorf("argmax: %w", err)
	}

	n := 0
	for i, p := range predictions.Ints() {
		if p == targets[i] {
			n++
		}
	}
	return n, nil
}
