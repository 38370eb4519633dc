// Package loss implements the categorical cross-entropy objective used to
// train the model, both as a differentiable graph expression and as a
// plain numeric reference.
package loss

import (
	"errors"
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch indicates logits and labels that do not line up.
var ErrShapeMismatch = errors.New("loss: shape mismatch")

// ===========================================================================
// Graph objective
// ===========================================================================

// CrossEntropy builds the mean over rows of -sum(onehot * logsoftmax(logits)).
// Both inputs must be (rows, classes) matrices. The log-softmax is taken
// independently for every row and shifted by the row maximum.
func CrossEntropy(logits, onehot *gorgonia.Node) (*gorgonia.Node, error) {
	if !logits.Shape().Eq(onehot.Shape()) || logits.Dims() != 2 {
		return nil, fmt.Errorf("%w: logits %v, labels %v", ErrShapeMismatch, logits.Shape(), onehot.Shape())
	}
	rows := logits.Shape()[0]

	logp, err := LogSoftmax(logits)
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(onehot, logp)
	if err != nil {
		return nil, err
	}
	total, err := gorgonia.Sum(picked)
	if err != nil {
		return nil, err
	}
	neg, err := gorgonia.Neg(total)
	if err != nil {
		return nil, err
	}
	return gorgonia.Div(neg, gorgonia.NewConstant(float64(rows)))
}

// LogSoftmax returns z - max(z) - log(sum(exp(z - max(z)))) for every row
// of a (rows, classes) matrix.
func LogSoftmax(logits *gorgonia.Node) (*gorgonia.Node, error) {
	if logits.Dims() != 2 {
		return nil, fmt.Errorf("%w: logits %v", ErrShapeMismatch, logits.Shape())
	}
	rowAxis := []byte{1}

	m, err := gorgonia.Max(logits, 1)
	if err != nil {
		return nil, fmt.Errorf("row max: %w", err)
	}
	shifted, err := gorgonia.BroadcastSub(logits, m, nil, rowAxis)
	if err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}
	e, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, err
	}
	s, err := gorgonia.Sum(e, 1)
	if err != nil {
		return nil, fmt.Errorf("row sum: %w", err)
	}
	lse, err := gorgonia.Log(s)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastSub(shifted, lse, nil, rowAxis)
}

// ===========================================================================
// Numeric reference
// ===========================================================================

// CrossEntropyValue computes the same objective directly from a
// (rows, classes) logits tensor and one label per row.
func CrossEntropyValue(logits *tensor.Dense, targets []int) (float64, error) {
	shape := logits.Shape()
	if len(shape) != 2 || shape[0] != len(targets) || shape[0] == 0 {
		return 0, fmt.Errorf("%w: logits %v, %d labels", ErrShapeMismatch, shape, len(targets))
	}
	rows, classes := shape[0], shape[1]
	data := logits.Float64s()

	total := 0.0
	for r, label := range targets {
		if label < 0 || label >= classes {
			return 0, fmt.Errorf("%w: label %d outside %d classes", ErrShapeMismatch, label, classes)
		}
		row := data[r*classes : (r+1)*classes]
		total += logSumExp(row) - row[label]
	}
	return total / float64(rows), nil
}

// OneHot encodes labels as a (len(labels), classes) float64 matrix.
func OneHot(labels []int, classes int) (*tensor.Dense, error) {
	backing := make([]float64, len(labels)*classes)
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("%w: label %d outside %d classes", ErrShapeMismatch, l, classes)
		}
		backing[i*classes+l] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), classes), tensor.WithBacking(backing)), nil
}

// Softmax returns the softmax of a single row of logits.
func Softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	m := row[0]
	for _, v := range row[1:] {
		m = math.Max(m, v)
	}
	sum := 0.0
	for i, v := range row {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func logSumExp(row []float64) float64 {
	m := row[0]
	for _, v := range row[1:] {
		m = math.Max(m, v)
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}
