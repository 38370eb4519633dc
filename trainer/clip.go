package trainer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// clipGradients scales all gradients in place so their global L2 norm is
// at most maxNorm. It returns the norm before clipping.
func clipGradients(params []gorgonia.ValueGrad, maxNorm float64) (float64, error) {
	grads := make([][]float64, 0, len(params))
	sumSq := 0.0
	for i, p := range params {
		g, err := p.Grad()
		if err != nil {
			return 0, fmt.Errorf("parameter %d: %w", i, err)
		}
		t, ok := g.(tensor.Tensor)
		if !ok {
			return 0, fmt.Errorf("parameter %d: gradient of type %T", i, g)
		}
		data, ok := t.Data().([]float64)
		if !ok {
			return 0, fmt.Errorf("parameter %d: gradient of dtype %v", i, t.Dtype())
		}

		n := floats.Norm(data, 2)
		sumSq += n * n
		grads = append(grads, data)
	}

	norm := math.Sqrt(sumSq)
	coef := maxNorm / (norm + 1e-6)
	if coef < 1 {
		for _, g := range grads {
			floats.Scale(coef, g)
		}
	}
	return norm, nil
}
