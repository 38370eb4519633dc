package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scttfrdmn/local-wavenet/audio"
	"github.com/scttfrdmn/local-wavenet/envconfig"
	"github.com/scttfrdmn/local-wavenet/trainer"
	"github.com/scttfrdmn/local-wavenet/wavenet"
)

// Config is the layout of a run configuration file.
type Config struct {
	Model wavenet.Config      `yaml:"model"`
	Train trainer.Config      `yaml:"train"`
	Data  audio.DatasetConfig `yaml:"data"`
	Log   LogConfig           `yaml:"log"`
}

// LogConfig sets the reporting cadence of a training run.
type LogConfig struct {
	LogInterval        int       `yaml:"log_interval"`
	ValidationInterval int       `yaml:"validation_interval"`
	GenerateInterval   int       `yaml:"generate_interval"`
	GenerateLength     int       `yaml:"generate_length"`
	Temperatures       []float64 `yaml:"temperatures"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	l := trainer.NewIntervalLogger()
	return Config{
		Model: wavenet.DefaultConfig(),
		Train: trainer.DefaultConfig(),
		Data: audio.DatasetConfig{
			SampleRate: 16000,
			TestStride: 100,
		},
		Log: LogConfig{
			LogInterval:        l.LogInterval,
			ValidationInterval: l.ValidationInterval,
			GenerateInterval:   l.GenerateInterval,
			GenerateLength:     l.GenerateLength,
			Temperatures:       append([]float64(nil), trainer.DefaultTemperatures...),
		},
	}
}

// LoadConfig reads path over the defaults. Fields missing from the file
// keep their default values. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// bindModel derives the dataset geometry from the model so items always
// match what the model consumes.
func (c *Config) bindModel(m wavenet.Config) {
	c.Model = m
	c.Data.ItemLength = m.ItemLength()
	c.Data.TargetLength = m.OutputLength
	c.Data.Classes = m.Classes
}

// applyEnv applies WAVENET_* settings that are present.
func (c *Config) applyEnv() {
	if envconfig.Var("WAVENET_WORKERS") != "" {
		c.Train.Workers = int(envconfig.Workers())
		c.Data.Workers = c.Train.Workers
	}
}

// applyFlags copies every flag the user set into the configuration.
func (c *Config) applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("epochs", func() (e error) { c.Train.Epochs, e = flags.GetInt("epochs"); return })
	set("batch-size", func() (e error) { c.Train.BatchSize, e = flags.GetInt("batch-size"); return })
	set("lr", func() (e error) { c.Train.LearningRate, e = flags.GetFloat64("lr"); return })
	set("optimizer", func() (e error) { c.Train.Optimizer, e = flags.GetString("optimizer"); return })
	set("clip", func() (e error) { c.Train.GradientClipping, e = flags.GetFloat64("clip"); return })
	set("snapshot-dir", func() (e error) { c.Train.SnapshotPath, e = flags.GetString("snapshot-dir"); return })
	set("snapshot-name", func() (e error) { c.Train.SnapshotName, e = flags.GetString("snapshot-name"); return })
	set("snapshot-interval", func() (e error) { c.Train.SnapshotInterval, e = flags.GetInt("snapshot-interval"); return })
	set("seed", func() (e error) { c.Train.Seed, e = flags.GetInt64("seed"); return })
	set("sample-rate", func() (e error) { c.Data.SampleRate, e = flags.GetInt("sample-rate"); return })
	set("cache", func() (e error) { c.Data.CacheFile, e = flags.GetString("cache"); return })
	set("workers", func() error {
		n, e := flags.GetInt("workers")
		c.Train.Workers, c.Data.Workers = n, n
		return e
	})
	set("temperatures", func() (e error) { c.Log.Temperatures, e = flags.GetFloat64Slice("temperatures"); return })
	return err
}
