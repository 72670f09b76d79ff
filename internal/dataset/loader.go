package dataset

import (
	"context"
	"io"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/car-classifier/internal/preprocess"
)

// Batch holds preprocessed images in [N, 3, H, W] order and their labels.
type Batch struct {
	Images []float32
	Labels []int32
	Paths  []string
	Size   int
}

// LoadFunc turns an image path into a preprocessed tensor.
type LoadFunc func(path string) (preprocess.Tensor, error)

type Loader struct {
	folder    *Folder
	batchSize int
	workers   int
	rng       *rand.Rand
	load      LoadFunc
}

type LoaderOption func(*Loader)

// WithWorkers bounds the number of images decoded concurrently per batch.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

func WithLoadFunc(fn LoadFunc) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.load = fn
		}
	}
}

// NewLoader creates a loader. A zero seed picks a random one.
func NewLoader(folder *Folder, batchSize int, seed uint64, opts ...LoaderOption) *Loader {
	if seed == 0 {
		seed = rand.Uint64()
	}
	l := &Loader{
		folder:    folder,
		batchSize: batchSize,
		workers:   runtime.GOMAXPROCS(0),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		load:      preprocess.Load,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NumBatches is the number of batches per epoch; the last may be short.
func (l *Loader) NumBatches() int {
	n := l.folder.Len()
	return (n + l.batchSize - 1) / l.batchSize
}

type batchResult struct {
	batch *Batch
	err   error
}

// Epoch is one shuffled pass over the dataset. The next batch is prepared
// while the caller works on the current one.
type Epoch struct {
	results <-chan batchResult
	cancel  context.CancelFunc
}

// Epoch starts a new pass with a fresh permutation.
func (l *Loader) Epoch(ctx context.Context) *Epoch {
	order := l.rng.Perm(l.folder.Len())
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan batchResult, 1)

	go func() {
		defer close(results)
		for start := 0; start < len(order); start += l.batchSize {
			end := min(start+l.batchSize, len(order))
			batch, err := l.loadBatch(ctx, order[start:end])
			select {
			case results <- batchResult{batch: batch, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	return &Epoch{results: results, cancel: cancel}
}

// Next returns the next batch, or io.EOF once the epoch is exhausted.
func (e *Epoch) Next() (*Batch, error) {
	r, ok := <-e.results
	if !ok {
		return nil, io.EOF
	}
	return r.batch, r.err
}

// Close stops prefetching and releases the producer goroutine.
func (e *Epoch) Close() {
	e.cancel()
	for range e.results {
	}
}

func (l *Loader) loadBatch(ctx context.Context, indices []int) (*Batch, error) {
	batch := &Batch{
		Images: make([]float32, len(indices)*preprocess.Len),
		Labels: make([]int32, len(indices)),
		Paths:  make([]string, len(indices)),
		Size:   len(indices),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for slot, idx := range indices {
		sample := l.folder.Samples[idx]
		batch.Labels[slot] = sample.Label
		batch.Paths[slot] = sample.Path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tensor, err := l.load(sample.Path)
			if err != nil {
				return err
			}
			copy(batch.Images[slot*preprocess.Len:(slot+1)*preprocess.Len], tensor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}
