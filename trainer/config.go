package trainer

import (
	"fmt"

	"github.com/scttfrdmn/local-wavenet/device"
)

// Config holds hyperparameters for training.
type Config struct {
	// Optimization
	Optimizer        string  `yaml:"optimizer"`         // "adam", "sgd", "momentum" or "rmsprop"
	LearningRate     float64 `yaml:"learning_rate"`
	WeightDecay      float64 `yaml:"weight_decay"`      // L2 regularization
	GradientClipping float64 `yaml:"gradient_clipping"` // Max global gradient norm (0 = disabled)
	AdamBeta1        float64 `yaml:"adam_beta1"`
	AdamBeta2        float64 `yaml:"adam_beta2"`
	AdamEpsilon      float64 `yaml:"adam_epsilon"`
	Momentum         float64 `yaml:"momentum"` // Used by "momentum"

	// Snapshots
	SnapshotPath     string `yaml:"snapshot_path"` // Directory for snapshots ("" = disabled)
	SnapshotName     string `yaml:"snapshot_name"` // File name prefix
	SnapshotInterval int    `yaml:"snapshot_interval"`

	// Training
	BatchSize int   `yaml:"batch_size"`
	Epochs    int   `yaml:"epochs"`
	Workers   int   `yaml:"workers"` // Batches prefetched while the model computes
	Seed      int64 `yaml:"seed"`    // Shuffle seed (0 = time seeded)

	// Hardware. Resolved once by the caller.
	Device device.Device `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Optimizer:    "adam",
		LearningRate: 0.001,
		AdamBeta1:    0.9,
		AdamBeta2:    0.999,
		AdamEpsilon:  1e-8,
		Momentum:     0.9,

		SnapshotName:     "snapshot",
		SnapshotInterval: 1000,

		BatchSize: 32,
		Epochs:    10,
		Workers:   8,

		Device: device.Default(),
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate %v", ErrInvalidArgument, c.LearningRate)
	case c.WeightDecay < 0:
		return fmt.Errorf("%w: weight decay %v", ErrInvalidArgument, c.WeightDecay)
	case c.GradientClipping < 0:
		return fmt.Errorf("%w: gradient clipping %v", ErrInvalidArgument, c.GradientClipping)
	case c.SnapshotInterval <= 0:
		return fmt.Errorf("%w: snapshot interval %d", ErrInvalidArgument, c.SnapshotInterval)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidArgument, c.Workers)
	}
	return nil
}
