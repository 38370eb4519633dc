// Package dataset defines the indexed dataset contract consumed by the
// trainer and a shuffled, prefetching batch loader over it.
package dataset

import (
	"errors"
)

var (
	// ErrIndexOutOfRange indicates an Item request outside [0, Len()).
	ErrIndexOutOfRange = errors.New("dataset: index out of range")

	// ErrInvalidBatchSize indicates a non-positive batch size.
	ErrInvalidBatchSize = errors.New("dataset: batch size must be positive")
)

// Dataset is an indexed collection of (input, target) pairs with a
// switchable training/validation view.
//
// Len and Item answer for the view currently selected with SetTrain.
// Implementations must allow concurrent Item calls; SetTrain is not
// expected to race with them.
type Dataset interface {
	Len() int
	Item(i int) (Item, error)
	SetTrain(train bool)
	Train() bool

	// TargetLength is the number of target labels per item.
	TargetLength() int
}

// Item is one example: a window of quantized input samples and the labels
// the model should predict for its last positions.
type Item struct {
	Input  []int
	Target []int
}

// Batch groups items for one optimization step. It is never persisted.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int {
	return len(b.Inputs)
}

// FlatTargets returns all target labels as a single batch-major sequence.
func (b *Batch) FlatTargets() []int {
	n := 0
	for _, t := range b.Targets {
		n += len(t)
	}

	flat := make([]int, 0, n)
	for _, t := range b.Targets {
		flat = append(flat, t...)
	}
	return flat
}

// Slice is an in-memory Dataset, mostly useful for tests and small corpora.
// It has no separate validation view: SetTrain only records the flag.
type Slice struct {
	Items  []Item
	Target int
	train  bool
}

// NewSlice wraps items as a Dataset in training view.
func NewSlice(items []Item, targetLength int) *Slice {
	return &Slice{Items: items, Target: targetLength, train: true}
}

func (s *Slice) Len() int { return len(s.Items) }

func (s *Slice) Item(i int) (Item, error) {
	if i < 0 || i >= len(s.Items) {
		return Item{}, ErrIndexOutOfRange
	}
	return s.Items[i], nil
}

func (s *Slice) SetTrain(train bool) { s.train = train }

func (s *Slice) Train() bool { return s.train }

func (s *Slice) TargetLength() int { return s.Target }
