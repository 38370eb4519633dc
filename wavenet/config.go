package wavenet

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates hyperparameters that cannot form a model.
	ErrInvalidConfig = errors.New("wavenet: invalid config")

	// ErrShapeMismatch indicates inputs or targets inconsistent with the model.
	ErrShapeMismatch = errors.New("wavenet: shape mismatch")

	// ErrNoGradients indicates Backward without a preceding training forward pass.
	ErrNoGradients = errors.New("wavenet: no gradients to publish")

	// ErrInvalidSnapshot indicates a snapshot that does not decode into this model.
	ErrInvalidSnapshot = errors.New("wavenet: invalid snapshot")
)

// Config holds hyperparameters for the model.
type Config struct {
	Layers           int   `yaml:"layers" json:"layers"`                       // Dilated layers per block; dilation doubles each layer
	Blocks           int   `yaml:"blocks" json:"blocks"`                       // Number of stacked blocks
	DilationChannels int   `yaml:"dilation_channels" json:"dilation_channels"` // Channels of the gated activation
	ResidualChannels int   `yaml:"residual_channels" json:"residual_channels"` // Channels of the residual stream
	SkipChannels     int   `yaml:"skip_channels" json:"skip_channels"`         // Channels of the summed skip connections
	EndChannels      int   `yaml:"end_channels" json:"end_channels"`           // Hidden width of the output head
	Classes          int   `yaml:"classes" json:"classes"`                     // Quantization levels of the signal
	OutputLength     int   `yaml:"output_length" json:"output_length"`         // Predictions per training item
	KernelSize       int   `yaml:"kernel_size" json:"kernel_size"`             // Taps of each dilated convolution
	Seed             int64 `yaml:"seed" json:"seed"`                           // Initialization and sampling seed (0 = time seeded)
}

// DefaultConfig returns the standard WaveNet configuration.
func DefaultConfig() Config {
	return Config{
		Layers:           10,
		Blocks:           4,
		DilationChannels: 32,
		ResidualChannels: 32,
		SkipChannels:     256,
		EndChannels:      256,
		Classes:          256,
		OutputLength:     32,
		KernelSize:       2,
	}
}

// ReceptiveField returns how many past samples influence one prediction.
func (c Config) ReceptiveField() int {
	return 1 + c.Blocks*(c.KernelSize-1)*((1<<c.Layers)-1)
}

// ItemLength returns the input length of one training item.
func (c Config) ItemLength() int {
	return c.ReceptiveField() + c.OutputLength - 1
}

// Validate reports the first unusable hyperparameter.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value int
		min   int
	}{
		{"layers", c.Layers, 1},
		{"blocks", c.Blocks, 1},
		{"dilation_channels", c.DilationChannels, 1},
		{"residual_channels", c.ResidualChannels, 1},
		{"skip_channels", c.SkipChannels, 1},
		{"end_channels", c.EndChannels, 1},
		{"classes", c.Classes, 2},
		{"output_length", c.OutputLength, 2},
		{"kernel_size", c.KernelSize, 2},
	}
	for _, f := range fields {
		if f.value < f.min {
			return fmt.Errorf("%w: %s is %d, must be at least %d", ErrInvalidConfig, f.name, f.value, f.min)
		}
	}
	if c.Layers > 24 {
		return fmt.Errorf("%w: layers is %d, dilation would overflow", ErrInvalidConfig, c.Layers)
	}
	return nil
}
