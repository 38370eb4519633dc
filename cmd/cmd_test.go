package cmd

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/audio"
	"github.com/scttfrdmn/local-wavenet/metrics"
	"github.com/scttfrdmn/local-wavenet/trainer"
	"github.com/scttfrdmn/local-wavenet/wavenet"
)

const tinyRunConfig = `
model:
  layers: 2
  blocks: 1
  dilation_channels: 4
  residual_channels: 4
  skip_channels: 6
  end_channels: 6
  classes: 16
  output_length: 2
  kernel_size: 2
  seed: 1
train:
  batch_size: 32
  epochs: 1
  snapshot_interval: 10
  seed: 3
  workers: 2
data:
  sample_rate: 8000
log:
  log_interval: 10
  validation_interval: 20
  generate_interval: 25
  generate_length: 16
`

func tinyModelConfig() wavenet.Config {
	return wavenet.Config{
		Layers:           2,
		Blocks:           1,
		DilationChannels: 4,
		ResidualChannels: 4,
		SkipChannels:     6,
		EndChannels:      6,
		Classes:          16,
		OutputLength:     2,
		KernelSize:       2,
		Seed:             1,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeSine(t *testing.T, path string, n, rate int) {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	require.NoError(t, audio.WriteWAV(path, samples, rate))
}

// execute runs the CLI with the given arguments and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	root := NewCLI()
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("WAVENET_HOME", home)
	t.Setenv("WAVENET_METRICS", filepath.Join(home, "metrics.db"))
	t.Setenv("WAVENET_DEVICE", "cpu")
	t.Setenv("WAVENET_WORKERS", "")
	return home
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, wavenet.DefaultConfig(), c.Model)
	assert.Equal(t, 50, c.Log.LogInterval)
	assert.Equal(t, trainer.DefaultTemperatures, c.Log.Temperatures)

	path := filepath.Join(t.TempDir(), "run.yaml")
	writeFile(t, path, "model:\n  layers: 3\ntrain:\n  learning_rate: 0.01\n  optimizer: sgd\n")
	c, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Model.Layers)
	assert.Equal(t, 4, c.Model.Blocks)
	assert.Equal(t, 0.01, c.Train.LearningRate)
	assert.Equal(t, "sgd", c.Train.Optimizer)
	assert.Equal(t, 1000, c.Train.SnapshotInterval)
	assert.Equal(t, 16000, c.Data.SampleRate)

	writeFile(t, path, "model: [1, 2")
	_, err = LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyFlagsOverridesOnlyChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	writeFile(t, path, "train:\n  epochs: 7\n  batch_size: 4\n")
	c, err := LoadConfig(path)
	require.NoError(t, err)

	trainCmd := newTrainCmd()
	require.NoError(t, trainCmd.ParseFlags([]string{"--batch-size", "16", "--lr", "0.5", "--temperatures", "0,0.5", "--workers", "3"}))
	require.NoError(t, c.applyFlags(trainCmd))

	assert.Equal(t, 7, c.Train.Epochs)
	assert.Equal(t, 16, c.Train.BatchSize)
	assert.Equal(t, 0.5, c.Train.LearningRate)
	assert.Equal(t, []float64{0, 0.5}, c.Log.Temperatures)
	assert.Equal(t, 3, c.Train.Workers)
	assert.Equal(t, 3, c.Data.Workers)
}

func TestApplyEnvWorkers(t *testing.T) {
	c := DefaultConfig()
	t.Setenv("WAVENET_WORKERS", "5")
	c.applyEnv()
	assert.Equal(t, 5, c.Train.Workers)
	assert.Equal(t, 5, c.Data.Workers)
}

func TestBindModel(t *testing.T) {
	c := DefaultConfig()
	m := tinyModelConfig()
	c.bindModel(m)
	assert.Equal(t, m.ItemLength(), c.Data.ItemLength)
	assert.Equal(t, 2, c.Data.TargetLength)
	assert.Equal(t, 16, c.Data.Classes)
}

func TestWriteSamples(t *testing.T) {
	dir := t.TempDir()
	backing := make([]float64, 20)
	for i := range backing {
		backing[i] = float64(i%10)/10 - 0.5
	}
	samples := tensor.New(tensor.WithShape(2, 10), tensor.WithBacking(backing))

	paths, err := writeSamples(dir, "step00000001", samples, []float64{0, 1}, 8000)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "step00000001_t0.00.wav"), paths[0])

	for _, p := range paths {
		data, rate, err := audio.ReadWAV(p, 0)
		require.NoError(t, err)
		assert.Equal(t, 8000, rate)
		assert.Len(t, data, 10)
	}

	_, err = writeSamples(dir, "x", samples, []float64{0}, 8000)
	require.Error(t, err)
}

func TestGenerateCommand(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	model, err := wavenet.New(tinyModelConfig())
	require.NoError(t, err)
	snapshot := filepath.Join(dir, "model.bin")
	require.NoError(t, model.SaveFile(snapshot))

	out := filepath.Join(dir, "out")
	stdout, err := execute(t, "generate", "--model", snapshot, "--length", "12", "--out", out, "--temperatures", "0,0.8,1.5", "--sample-rate", "8000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "generated_t0.80.wav")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	data, _, err := audio.ReadWAV(filepath.Join(out, "generated_t1.50.wav"), 0)
	require.NoError(t, err)
	assert.Len(t, data, 12)

	_, err = execute(t, "generate", "--length", "12")
	require.Error(t, err)
}

func TestTrainEvaluateAndInspect(t *testing.T) {
	home := isolate(t)
	dir := t.TempDir()

	data := filepath.Join(dir, "wavs")
	require.NoError(t, os.Mkdir(data, 0o755))
	writeSine(t, filepath.Join(data, "a.wav"), 1200, 8000)
	writeSine(t, filepath.Join(data, "b.wav"), 800, 8000)

	config := filepath.Join(dir, "run.yaml")
	writeFile(t, config, tinyRunConfig)

	final := filepath.Join(dir, "final.bin")
	samplesDir := filepath.Join(dir, "samples")
	stdout, err := execute(t, "train",
		"--config", config,
		"--data", data,
		"--name", "sine",
		"--samples", samplesDir,
		"--out", final,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, final)

	snapshots, err := os.ReadDir(filepath.Join(home, "snapshots"))
	require.NoError(t, err)
	assert.NotEmpty(t, snapshots)

	model, err := wavenet.LoadFile(final)
	require.NoError(t, err)
	assert.Equal(t, tinyModelConfig(), model.Config())
	model.Close()

	store, err := metrics.Open(filepath.Join(home, "metrics.db"))
	require.NoError(t, err)
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "sine", runs[0].Name)
	assert.Contains(t, runs[0].Config, "output_length: 2")

	losses, err := store.Scalars(context.Background(), runs[0].ID, trainer.TagLoss)
	require.NoError(t, err)
	require.NotEmpty(t, losses)
	assert.Equal(t, 10, losses[0].Step)

	accuracy, err := store.Scalars(context.Background(), runs[0].ID, trainer.TagValidationAccuracy)
	require.NoError(t, err)
	require.NotEmpty(t, accuracy)
	assert.GreaterOrEqual(t, accuracy[0].Value, 0.0)
	assert.LessOrEqual(t, accuracy[0].Value, 1.0)

	samples, err := store.Samples(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.FileExists(t, samples[0].Path)
	require.NoError(t, store.Close())

	stdout, err = execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, stdout, runs[0].ID)
	assert.Contains(t, stdout, "sine")

	stdout, err = execute(t, "metrics", runs[0].ID, "--tag", trainer.TagLoss)
	require.NoError(t, err)
	assert.Contains(t, stdout, "loss")
	assert.NotContains(t, stdout, "validation")

	stdout, err = execute(t, "metrics", runs[0].ID, "--samples")
	require.NoError(t, err)
	assert.Contains(t, stdout, samplesDir)

	_, err = execute(t, "metrics", "missing")
	require.ErrorIs(t, err, metrics.ErrRunNotFound)

	stdout, err = execute(t, "evaluate", "--model", final, "--data", data, "--sample-rate", "8000", "--batch-size", "4")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accuracy:")

	stdout, err = execute(t, "runs", "--delete", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "deleted")
}

func TestDevicesCommand(t *testing.T) {
	stdout, err := execute(t, "devices")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cpu")
	assert.Contains(t, stdout, "vector units:")
}
