package wavenet

import (
	"context"
	"fmt"

	"github.com/scttfrdmn/local-wavenet/audio"
)

// Generate produces length waveform samples in [-1, 1] from silence.
// A temperature of 0 always picks the most likely class.
func (m *Model) Generate(ctx context.Context, length int, temperature float64) ([]float64, error) {
	classes, err := m.GenerateFrom(ctx, nil, length, SampleConfig{Temperature: temperature})
	if err != nil {
		return nil, err
	}
	return audio.DequantizeAll(classes, m.config.Classes), nil
}

// GenerateFrom continues the quantized sequence first by length samples and
// returns only the new classes.
//
// Each step feeds the last ReceptiveField+1 samples through the model and
// samples the next class from the final prediction. Missing history is
// filled with the silence class Classes/2.
func (m *Model) GenerateFrom(ctx context.Context, first []int, length int, config SampleConfig) ([]int, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: generation length %d", ErrShapeMismatch, length)
	}
	if config.Temperature < 0 {
		return nil, fmt.Errorf("%w: negative temperature %v", ErrShapeMismatch, config.Temperature)
	}

	window := m.config.ReceptiveField() + 1
	seq := make([]int, 0, window+length)
	for i := len(first); i < window; i++ {
		seq = append(seq, m.config.Classes/2)
	}
	seq = append(seq, first...)

	out := make([]int, 0, length)
	for len(out) < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := m.step(seq[len(seq)-window:], config)
		if err != nil {
			return nil, err
		}
		seq = append(seq, next)
		out = append(out, next)
	}
	return out, nil
}

func (m *Model) step(window []int, config SampleConfig) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, logits, err := m.forward([][]int{window}, nil, false)
	if err != nil {
		return 0, err
	}

	classes := m.config.Classes
	data := logits.Float64s()
	last := data[len(data)-classes:]
	return sample(last, config, m.rng), nil
}
