package wavenet

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/scttfrdmn/local-wavenet/loss"
)

// Forward runs a batch of quantized input windows through the model.
//
// inputs holds B windows of equal length T; the model predicts the last
// T-ReceptiveField+1 positions of each. targets holds those labels
// batch-major (B*outputs entries) and may be nil in evaluation mode, in
// which case the returned loss is 0.
//
// The returned logits are batch-major with shape (B*outputs, Classes).
// In training mode the gradients of the loss are kept for Backward.
func (m *Model) Forward(inputs [][]int, targets []int) (float64, *tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forward(inputs, targets, m.training)
}

// Backward adds the gradients of the last training Forward into the
// parameter gradients. Gradients accumulate until ZeroGrad.
func (m *Model) Backward() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return ErrNoGradients
	}
	p := m.pending
	m.pending = nil
	return p.publishGradients(m.params)
}

func (m *Model) forward(inputs [][]int, targets []int, training bool) (float64, *tensor.Dense, error) {
	b := len(inputs)
	if b == 0 {
		return 0, nil, fmt.Errorf("%w: empty batch", ErrShapeMismatch)
	}
	length := len(inputs[0])
	for i, in := range inputs {
		if len(in) != length {
			return 0, nil, fmt.Errorf("%w: input %d has length %d, want %d", ErrShapeMismatch, i, len(in), length)
		}
	}

	outLen := length - m.config.ReceptiveField() + 1
	if outLen < 2 {
		return 0, nil, fmt.Errorf("%w: input length %d is shorter than receptive field %d plus one", ErrShapeMismatch, length, m.config.ReceptiveField())
	}
	if targets != nil && len(targets) != b*outLen {
		return 0, nil, fmt.Errorf("%w: %d targets for %d outputs", ErrShapeMismatch, len(targets), b*outLen)
	}
	if training && targets == nil {
		return 0, nil, fmt.Errorf("%w: training forward needs targets", ErrShapeMismatch)
	}

	p, err := m.programFor(programKey{batch: b, length: length, training: training})
	if err != nil {
		return 0, nil, err
	}

	input, err := m.encodeInputs(inputs)
	if err != nil {
		return 0, nil, err
	}

	var labels *tensor.Dense
	if training {
		if labels, err = m.encodeTargets(targets, b, outLen); err != nil {
			return 0, nil, err
		}
	}

	if err := p.run(input, labels); err != nil {
		return 0, nil, fmt.Errorf("run: %w", err)
	}

	logits, err := batchMajor(p.logitsVal, b, outLen, m.config.Classes)
	if err != nil {
		return 0, nil, err
	}

	var cost float64
	switch {
	case training:
		if cost, err = scalar(p.costVal); err != nil {
			return 0, nil, err
		}
		m.pending = p
	case targets != nil:
		if cost, err = loss.CrossEntropyValue(logits, targets); err != nil {
			return 0, nil, err
		}
	}
	return cost, logits, nil
}

// encodeInputs one-hot encodes windows into time-major rows.
func (m *Model) encodeInputs(inputs [][]int) (*tensor.Dense, error) {
	b, length, classes := len(inputs), len(inputs[0]), m.config.Classes
	backing := make([]float64, length*b*classes)
	for i, in := range inputs {
		for t, c := range in {
			if c < 0 || c >= classes {
				return nil, fmt.Errorf("%w: input class %d outside %d classes", ErrShapeMismatch, c, classes)
			}
			backing[(t*b+i)*classes+c] = 1
		}
	}
	return tensor.New(tensor.WithShape(length*b, classes), tensor.WithBacking(backing)), nil
}

// encodeTargets one-hot encodes batch-major labels into time-major rows.
func (m *Model) encodeTargets(targets []int, b, outLen int) (*tensor.Dense, error) {
	classes := m.config.Classes
	backing := make([]float64, len(targets)*classes)
	for i := 0; i < b; i++ {
		for t := 0; t < outLen; t++ {
			c := targets[i*outLen+t]
			if c < 0 || c >= classes {
				return nil, fmt.Errorf("%w: target class %d outside %d classes", ErrShapeMismatch, c, classes)
			}
			backing[(t*b+i)*classes+c] = 1
		}
	}
	return tensor.New(tensor.WithShape(outLen*b, classes), tensor.WithBacking(backing)), nil
}

// batchMajor copies time-major logits into a new batch-major tensor.
func batchMajor(v gorgonia.Value, b, outLen, classes int) (*tensor.Dense, error) {
	t, ok := v.(tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: logits of type %T", ErrShapeMismatch, v)
	}
	src, ok := t.Data().([]float64)
	if !ok || len(src) != b*outLen*classes {
		return nil, fmt.Errorf("%w: logits shape %v", ErrShapeMismatch, t.Shape())
	}

	dst := make([]float64, len(src))
	for tt := 0; tt < outLen; tt++ {
		for i := 0; i < b; i++ {
			from := (tt*b + i) * classes
			to := (i*outLen + tt) * classes
			copy(dst[to:to+classes], src[from:from+classes])
		}
	}
	return tensor.New(tensor.WithShape(b*outLen, classes), tensor.WithBacking(dst)), nil
}

func scalar(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: loss was not computed", ErrNoGradients)
	}
	switch d := v.Data().(type) {
	case float64:
		return d, nil
	case []float64:
		if len(d) == 1 {
			return d[0], nil
		}
	}
	return 0, fmt.Errorf("%w: loss of type %T", ErrShapeMismatch, v.Data())
}
