package trainer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/dataset"
)

// Logger receives the loss of every training step.
type Logger interface {
	Log(ctx context.Context, step int, loss float64) error
}

// TrainerBinder is implemented by loggers that want a reference to the
// Trainer they report for. The Trainer calls BindTrainer from New.
type TrainerBinder interface {
	BindTrainer(t *Trainer)
}

// ScalarSink records named scalar metrics.
type ScalarSink interface {
	Scalar(step int, tag string, value float64) error
}

// Metric tags written to a ScalarSink.
const (
	TagLoss               = "loss"
	TagValidationLoss     = "validation loss"
	TagValidationAccuracy = "validation accuracy"
)

// IntervalLogger reports the running average loss, validation results and
// generated samples at fixed step intervals. An interval of 0 disables the
// corresponding report.
//
// Generation runs in the background on a copy of the model taken by
// Snapshot, so training continues meanwhile. If the previous generation is
// still running when the next one is due, the new one is skipped.
type IntervalLogger struct {
	LogInterval        int
	ValidationInterval int
	GenerateInterval   int

	// Validation is the dataset passed to Trainer.Validate. It must be a
	// separate instance from the training dataset because validation
	// switches its view while the training loader may still be reading.
	Validation          dataset.Dataset
	ValidationBatchSize int

	// Sink optionally records every reported value.
	Sink ScalarSink

	// Snapshot returns an independent copy of the model to generate from.
	// If the copy implements io.Closer it is closed after generation.
	Snapshot func() (Generator, error)

	// OnSamples receives generated samples, one row per temperature.
	OnSamples      func(ctx context.Context, step int, samples *tensor.Dense) error
	GenerateLength int
	Temperatures   []float64

	trainer     *Trainer
	accumulated float64

	generating atomic.Bool
	wg         sync.WaitGroup
	mu         sync.Mutex
	bgErr      error
}

// NewIntervalLogger returns a logger with the default intervals: loss
// every 50 steps, validation every 200 and generation every 500.
func NewIntervalLogger() *IntervalLogger {
	return &IntervalLogger{
		LogInterval:         50,
		ValidationInterval:  200,
		GenerateInterval:    500,
		ValidationBatchSize: 32,
		GenerateLength:      8000,
	}
}

// BindTrainer implements TrainerBinder.
func (l *IntervalLogger) BindTrainer(t *Trainer) { l.trainer = t }

// Log implements Logger.
func (l *IntervalLogger) Log(ctx context.Context, step int, loss float64) error {
	l.accumulated += loss

	if due(step, l.LogInterval) {
		avg := l.accumulated / float64(l.LogInterval)
		l.accumulated = 0
		slog.Info("training", "step", step, "loss", avg)
		if err := l.record(step, TagLoss, avg); err != nil {
			return err
		}
	}

	if due(step, l.ValidationInterval) && l.Validation != nil && l.trainer != nil {
		if err := l.validate(ctx, step); err != nil {
			return err
		}
	}

	if due(step, l.GenerateInterval) && l.Snapshot != nil && l.OnSamples != nil {
		if err := l.generate(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func due(step, interval int) bool {
	return interval > 0 && step%interval == 0
}

func (l *IntervalLogger) record(step int, tag string, value float64) error {
	if l.Sink == nil {
		return nil
	}
	return l.Sink.Scalar(step, tag, value)
}

func (l *IntervalLogger) validate(ctx context.Context, step int) error {
	batch := l.ValidationBatchSize
	if batch <= 0 {
		batch = l.trainer.Config().BatchSize
	}

	res, err := l.trainer.Validate(ctx, l.Validation, batch)
	if err != nil {
		return err
	}
	slog.Info("validation", "step", step, "loss", res.Loss, "accuracy", res.Accuracy)

	if err := l.record(step, TagValidationLoss, res.Loss); err != nil {
		return err
	}
	return l.record(step, TagValidationAccuracy, res.Accuracy)
}

func (l *IntervalLogger) generate(ctx context.Context, step int) error {
	if !l.generating.CompareAndSwap(false, true) {
		slog.Info("last generation is still running, skipping this one", "step", step)
		return nil
	}

	g, err := l.Snapshot()
	if err != nil {
		l.generating.Store(false)
		return err
	}

	length := l.GenerateLength
	if length <= 0 {
		length = 8000
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.generating.Store(false)
		if c, ok := g.(io.Closer); ok {
			defer c.Close()
		}

		samples, err := GenerateAudio(ctx, g, length, l.Temperatures...)
		if err == nil {
			err = l.OnSamples(ctx, step, samples)
		}
		if err != nil {
			slog.Warn("sample generation failed", "step", step, "error", err)
			l.mu.Lock()
			l.bgErr = errors.Join(l.bgErr, err)
			l.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until background generation finishes and returns any
// errors it reported.
func (l *IntervalLogger) Wait() error {
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bgErr
}
