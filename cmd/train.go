package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/audio"
	"github.com/scttfrdmn/local-wavenet/envconfig"
	"github.com/scttfrdmn/local-wavenet/metrics"
	"github.com/scttfrdmn/local-wavenet/trainer"
	"github.com/scttfrdmn/local-wavenet/wavenet"
)

func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on a directory of WAV files",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}

	flags := trainCmd.Flags()
	flags.String("config", "", "YAML run configuration (model, train, data and log sections)")
	flags.String("data", "", "Directory of WAV files")
	flags.String("name", "wavenet", "Run name recorded in the metrics database")
	flags.String("resume", "", "Snapshot to continue training from")
	flags.Int("continue-at", 0, "Step number the resumed snapshot was taken at")
	flags.String("out", "", "Write the final model to this file")
	flags.String("samples", "", "Directory for generated samples (default $WAVENET_HOME/samples/RUN_ID)")
	flags.Bool("no-metrics", false, "Do not record the run in the metrics database")
	flags.String("device", "auto", "Compute device: auto, cpu, cuda or cuda:N")

	flags.Int("epochs", 10, "Passes over the training data")
	flags.Int("batch-size", 32, "Items per batch")
	flags.Float64("lr", 0.001, "Learning rate")
	flags.String("optimizer", "adam", "Optimizer: adam, sgd, momentum or rmsprop")
	flags.Float64("clip", 0, "Max global gradient norm (0 disables clipping)")
	flags.String("snapshot-dir", "", "Snapshot directory (default $WAVENET_HOME/snapshots)")
	flags.String("snapshot-name", "snapshot", "Snapshot file name prefix")
	flags.Int("snapshot-interval", 1000, "Steps between snapshots")
	flags.Int64("seed", 0, "Shuffle seed (0 = time seeded)")
	flags.Int("sample-rate", 16000, "Sample rate audio is resampled to")
	flags.String("cache", "", "Cache file for the quantized dataset")
	flags.Int("workers", 8, "Prefetch and decoding workers")
	flags.Float64Slice("temperatures", trainer.DefaultTemperatures, "Sampling temperatures of generated previews")

	trainCmd.MarkFlagRequired("data")
	return trainCmd
}

// TrainHandler trains a new or resumed model and records the run.
func TrainHandler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	c, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	c.applyEnv()
	if err := c.applyFlags(cmd); err != nil {
		return err
	}
	if c.Train.SnapshotPath == "" {
		c.Train.SnapshotPath = filepath.Join(envconfig.Home(), "snapshots")
	}
	if err := os.MkdirAll(c.Train.SnapshotPath, 0o755); err != nil {
		return err
	}

	if c.Train.Device, err = resolveDevice(cmd); err != nil {
		return err
	}

	var model *wavenet.Model
	if resume, _ := flags.GetString("resume"); resume != "" {
		model, err = wavenet.LoadFile(resume)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		slog.Info("resumed model", "path", resume)
	} else {
		model, err = wavenet.New(c.Model)
		if err != nil {
			return err
		}
	}
	defer model.Close()
	c.bindModel(model.Config())

	dataDir, _ := flags.GetString("data")
	train, err := audio.LoadDir(ctx, dataDir, c.Data)
	if err != nil {
		return err
	}
	// validation switches views, so it gets its own dataset over the same stream
	validation, err := audio.NewDataset(train.Data(), c.Data)
	if err != nil {
		return err
	}
	slog.Info("loaded dataset", "samples", train.Samples(), "items", train.Len(),
		"receptive_field", model.ReceptiveField(), "parameters", model.NumParams())

	logger := trainer.NewIntervalLogger()
	logger.LogInterval = c.Log.LogInterval
	logger.ValidationInterval = c.Log.ValidationInterval
	logger.GenerateInterval = c.Log.GenerateInterval
	logger.GenerateLength = c.Log.GenerateLength
	logger.Temperatures = c.Log.Temperatures
	logger.Validation = validation
	logger.ValidationBatchSize = c.Train.BatchSize
	logger.Snapshot = func() (trainer.Generator, error) { return model.Clone() }

	var run *metrics.Run
	if noMetrics, _ := flags.GetBool("no-metrics"); !noMetrics {
		store, err := openMetrics()
		if err != nil {
			return err
		}
		defer store.Close()

		raw, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		name, _ := flags.GetString("name")
		if run, err = store.CreateRun(ctx, name, string(raw)); err != nil {
			return err
		}
		logger.Sink = run
		slog.Info("recording run", "id", run.ID, "database", envconfig.Metrics())
	}

	samplesDir, _ := flags.GetString("samples")
	if samplesDir == "" {
		id := "latest"
		if run != nil {
			id = run.ID
		}
		samplesDir = filepath.Join(envconfig.Home(), "samples", id)
	}
	logger.OnSamples = sampleWriter(samplesDir, c.Log.Temperatures, c.Data.SampleRate, run)

	tr, err := trainer.New(model, train, c.Train, trainer.WithLogger(logger))
	if err != nil {
		return err
	}

	continueAt, _ := flags.GetInt("continue-at")
	trainErr := tr.Train(ctx, c.Train.BatchSize, c.Train.Epochs, continueAt)
	if err := errors.Join(trainErr, logger.Wait()); err != nil {
		return err
	}
	slog.Info("training finished", "step", tr.Step())

	if out, _ := flags.GetString("out"); out != "" {
		if err := model.SaveFile(out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved model to %s\n", out)
	}
	return nil
}

// sampleWriter stores each row of generated samples as a WAV file and
// records it in run when one is given.
func sampleWriter(dir string, temperatures []float64, sampleRate int, run *metrics.Run) func(context.Context, int, *tensor.Dense) error {
	if len(temperatures) == 0 {
		temperatures = trainer.DefaultTemperatures
	}
	return func(_ context.Context, step int, samples *tensor.Dense) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		paths, err := writeSamples(dir, fmt.Sprintf("step%08d", step), samples, temperatures, sampleRate)
		if err != nil {
			return err
		}
		for i, path := range paths {
			slog.Info("wrote sample", "step", step, "temperature", temperatures[i], "path", path)
			if run != nil {
				if err := run.Sample(step, temperatures[i], path); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// writeSamples writes row i of samples to "<prefix>_t<temperature>.wav".
func writeSamples(dir, prefix string, samples *tensor.Dense, temperatures []float64, sampleRate int) ([]string, error) {
	shape := samples.Shape()
	if len(shape) != 2 || shape[0] != len(temperatures) {
		return nil, fmt.Errorf("samples of shape %v for %d temperatures", shape, len(temperatures))
	}

	data := samples.Float64s()
	length := shape[1]
	paths := make([]string, len(temperatures))
	for i, temp := range temperatures {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%s_t%.2f.wav", prefix, temp))
		if err := audio.WriteWAV(paths[i], data[i*length:(i+1)*length], sampleRate); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
