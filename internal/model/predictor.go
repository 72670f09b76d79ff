package model

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/born-ml/born/tensor"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

// Predictor is the single entry point the interactive surfaces call.
type Predictor interface {
	// PredictProbabilities preprocesses img and returns one probability per
	// class, in class list order.
	PredictProbabilities(ctx context.Context, img image.Image) ([]float32, error)
	// PredictTensor runs an already preprocessed image.
	PredictTensor(ctx context.Context, input preprocess.Tensor) ([]float32, error)
	Classes() domain.ClassList
	Close() error
}

// Predict runs p and ranks the result.
func Predict(ctx context.Context, p Predictor, img image.Image) (*Prediction, error) {
	probs, err := p.PredictProbabilities(ctx, img)
	if err != nil {
		return nil, err
	}
	return NewPrediction(p.Classes(), probs, rank.DefaultTopK), nil
}

// LoadObserver is told how long the weights took to load.
type LoadObserver func(d time.Duration)

// BornPredictor serves a born classifier. Weights load lazily on the first
// prediction (or an explicit Load) and are never mutated afterwards.
type BornPredictor struct {
	weightsPath string
	classes     domain.ClassList
	logger      *slog.Logger
	onLoad      LoadObserver

	once    sync.Once
	loadErr error
	backend Backend
	model   *Classifier[Backend]

	// The autodiff backend and its tape are shared, so forward passes run
	// one at a time.
	mu sync.Mutex
}

type BornOption func(*BornPredictor)

func WithLogger(logger *slog.Logger) BornOption {
	return func(p *BornPredictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithLoadObserver(fn LoadObserver) BornOption {
	return func(p *BornPredictor) { p.onLoad = fn }
}

func NewBornPredictor(weightsPath string, classes domain.ClassList, opts ...BornOption) *BornPredictor {
	p := &BornPredictor{
		weightsPath: weightsPath,
		classes:     classes,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewBornPredictorFromModel wraps an in-memory classifier.
func NewBornPredictorFromModel(backend Backend, c *Classifier[Backend], classes domain.ClassList) (*BornPredictor, error) {
	if c.NumClasses() != len(classes) {
		return nil, domain.WrapError(domain.ErrShapeMismatch, "wrap classifier",
			fmt.Errorf("head has %d outputs, class list has %d", c.NumClasses(), len(classes)))
	}
	p := &BornPredictor{classes: classes, logger: slog.Default(), backend: backend, model: c}
	p.once.Do(func() {})
	return p, nil
}

// Load forces the weights to load. Later calls return the first result.
func (p *BornPredictor) Load() error {
	p.once.Do(func() {
		start := time.Now()
		backend := NewBackend()
		backend.Tape().StopRecording()

		c, err := LoadWeights(p.weightsPath, backend, p.classes)
		if err != nil {
			p.loadErr = err
			p.logger.Error("Failed to load weights", "path", p.weightsPath, "error", err)
			return
		}
		p.backend = backend
		p.model = c

		elapsed := time.Since(start)
		if p.onLoad != nil {
			p.onLoad(elapsed)
		}
		p.logger.Info("Model loaded",
			"path", p.weightsPath,
			"classes", len(p.classes),
			"parameters", c.NumParameters(),
			"duration_ms", elapsed.Milliseconds())
	})
	return p.loadErr
}

func (p *BornPredictor) Classes() domain.ClassList { return p.classes }

func (p *BornPredictor) PredictProbabilities(ctx context.Context, img image.Image) ([]float32, error) {
	if img == nil {
		return nil, domain.WrapError(domain.ErrDecode, "predict", fmt.Errorf("no image"))
	}
	return p.PredictTensor(ctx, preprocess.Preprocess(img))
}

func (p *BornPredictor) PredictTensor(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	if len(input) != preprocess.Len {
		return nil, fmt.Errorf("predict: expected %d values, got %d", preprocess.Len, len(input))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Load(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tape := p.backend.Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	batch, err := tensor.FromSlice([]float32(input),
		tensor.Shape{1, preprocess.Channels, preprocess.Size, preprocess.Size}, p.backend)
	if err != nil {
		return nil, fmt.Errorf("predict: build input: %w", err)
	}

	logits := p.model.Forward(batch)
	row := logits.Data()
	if len(row) != len(p.classes) {
		return nil, domain.WrapError(domain.ErrShapeMismatch, "predict",
			fmt.Errorf("model produced %d scores for %d classes", len(row), len(p.classes)))
	}
	return rank.Softmax(row), nil
}

func (p *BornPredictor) Close() error { return nil }
