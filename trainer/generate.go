package trainer

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"
)

// DefaultTemperatures are used by GenerateAudio when none are given.
var DefaultTemperatures = []float64{0, 1}

// Generator produces audio samples from a trained model.
type Generator interface {
	Generate(ctx context.Context, length int, temperature float64) ([]float64, error)
}

// GenerateAudio generates length samples at each temperature, in order,
// and stacks them into a (len(temperatures), length) tensor.
func GenerateAudio(ctx context.Context, g Generator, length int, temperatures ...float64) (*tensor.Dense, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidArgument, length)
	}
	if len(temperatures) == 0 {
		temperatures = DefaultTemperatures
	}

	backing := make([]float64, 0, len(temperatures)*length)
	for _, temp := range temperatures {
		samples, err := g.Generate(ctx, length, temp)
		if err != nil {
			return nil, fmt.Errorf("generate at temperature %v: %w", temp, err)
		}
		if len(samples) != length {
			return nil, fmt.Errorf("generate at temperature %v: got %d samples, want %d", temp, len(samples), length)
		}
		backing = append(backing, samples...)
	}
	return tensor.New(tensor.WithShape(len(temperatures), length), tensor.WithBacking(backing)), nil
}
