package dataset

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoaderConfig controls batching and prefetching.
type LoaderConfig struct {
	// BatchSize is the number of items per batch. The last batch of an
	// epoch may be smaller.
	BatchSize int

	// Shuffle draws a fresh permutation for every pass.
	Shuffle bool

	// Workers is the number of goroutines loading items ahead of the
	// consumer. If 0, defaults to runtime.NumCPU(). It has no effect on
	// the order batches are delivered in.
	Workers int

	// Seed fixes the shuffle sequence. If 0, the loader is seeded from the clock.
	Seed int64
}

// Loader iterates a Dataset in batches.
//
// Items for upcoming batches are read concurrently by a worker pool while
// the consumer works on the current batch; batches are still handed to the
// consumer strictly in iteration order.
type Loader struct {
	ds     Dataset
	config LoaderConfig
	rng    *rand.Rand
}

// NewLoader creates a loader over ds.
func NewLoader(ds Dataset, config LoaderConfig) (*Loader, error) {
	if config.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Loader{
		ds:     ds,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the number of batches one pass yields for the dataset's
// current view.
func (l *Loader) Len() int {
	n := l.ds.Len()
	return (n + l.config.BatchSize - 1) / l.config.BatchSize
}

func (l *Loader) workers() int {
	if l.config.Workers > 0 {
		return l.config.Workers
	}
	return runtime.NumCPU()
}

// order returns the item indices for one pass.
func (l *Loader) order() []int {
	n := l.ds.Len()
	if l.config.Shuffle {
		return l.rng.Perm(n)
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// ===========================================================================
// Iteration
// ===========================================================================

// Each makes one pass over the dataset and calls fn for every batch.
//
// Iteration stops at the first error returned by fn or by the dataset, or
// when ctx is cancelled; that error is returned.
func (l *Loader) Each(ctx context.Context, fn func(*Batch) error) error {
	indices := l.order()
	if len(indices) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan *Batch, l.workers())

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(indices); start += l.config.BatchSize {
			end := min(start+l.config.BatchSize, len(indices))

			b, err := l.load(ctx, indices[start:end])
			if err != nil {
				return err
			}

			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for b := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// load reads the items of one batch in parallel, keeping their order.
func (l *Loader) load(ctx context.Context, indices []int) (*Batch, error) {
	b := &Batch{
		Inputs:  make([][]int, len(indices)),
		Targets: make([][]int, len(indices)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers())
	for pos, idx := range indices {
		pos, idx := pos, idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := l.ds.Item(idx)
			if err != nil {
				return err
			}
			b.Inputs[pos] = item.Input
			b.Targets[pos] = item.Target
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}
