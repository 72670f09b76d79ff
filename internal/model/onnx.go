package model

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

// ONNXPredictor serves an exported classifier graph through onnxruntime.
// The graph takes one float32 input [1,3,224,224] and yields raw scores
// [1,classes].
type ONNXPredictor struct {
	modelPath   string
	libraryPath string
	classes     domain.ClassList
	logger      *slog.Logger
	onLoad      LoadObserver

	once    sync.Once
	loadErr error

	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

type ONNXOption func(*ONNXPredictor)

func WithONNXLoadObserver(fn LoadObserver) ONNXOption {
	return func(p *ONNXPredictor) { p.onLoad = fn }
}

// NewONNXPredictor prepares a predictor. libraryPath points at the
// onnxruntime shared library; empty uses the platform default. Nothing is
// loaded until the first prediction or an explicit Load.
func NewONNXPredictor(modelPath, libraryPath string, classes domain.ClassList, logger *slog.Logger, opts ...ONNXOption) *ONNXPredictor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ONNXPredictor{
		modelPath:   modelPath,
		libraryPath: libraryPath,
		classes:     classes,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ONNXPredictor) Classes() domain.ClassList { return p.classes }

// Load initializes the runtime and session once.
func (p *ONNXPredictor) Load() error {
	p.once.Do(func() {
		start := time.Now()
		p.loadErr = p.load()
		if p.loadErr != nil {
			p.logger.Error("Failed to load ONNX model", "path", p.modelPath, "error", p.loadErr)
			return
		}
		elapsed := time.Since(start)
		if p.onLoad != nil {
			p.onLoad(elapsed)
		}
		p.logger.Info("ONNX model loaded", "path", p.modelPath, "classes", len(p.classes),
			"duration_ms", elapsed.Milliseconds())
	})
	return p.loadErr
}

func (p *ONNXPredictor) load() error {
	if _, err := os.Stat(p.modelPath); err != nil {
		return domain.WrapError(domain.ErrArtifactUnavailable, "load onnx model", err)
	}

	if !ort.IsInitialized() {
		if p.libraryPath != "" {
			ort.SetSharedLibraryPath(p.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return domain.WrapError(domain.ErrArtifactUnavailable, "initialize onnx environment", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(p.modelPath)
	if err != nil {
		return domain.WrapError(domain.ErrArtifactUnavailable, "inspect onnx model", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return domain.WrapError(domain.ErrShapeMismatch, "inspect onnx model",
			fmt.Errorf("expected one input and one output, got %d and %d", len(inputs), len(outputs)))
	}
	if err := checkOutputWidth(outputs[0].Dimensions, len(p.classes)); err != nil {
		return err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, preprocess.Channels, preprocess.Size, preprocess.Size))
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(p.classes))))
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(p.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return domain.WrapError(domain.ErrArtifactUnavailable, "create onnx session", err)
	}

	p.session = session
	p.inputTensor = inputTensor
	p.outputTensor = outputTensor
	return nil
}

// checkOutputWidth rejects graphs whose last output dimension disagrees
// with the class list. Dynamic dimensions (<= 0) are accepted.
func checkOutputWidth(dims ort.Shape, classes int) error {
	if len(dims) == 0 {
		return domain.WrapError(domain.ErrShapeMismatch, "inspect onnx model", fmt.Errorf("output has no dimensions"))
	}
	width := dims[len(dims)-1]
	if width > 0 && int(width) != classes {
		return domain.WrapError(domain.ErrShapeMismatch, "inspect onnx model",
			fmt.Errorf("model outputs %d classes, class list has %d", width, classes))
	}
	return nil
}

func (p *ONNXPredictor) PredictProbabilities(ctx context.Context, img image.Image) ([]float32, error) {
	if img == nil {
		return nil, domain.WrapError(domain.ErrDecode, "predict", fmt.Errorf("no image"))
	}
	return p.PredictTensor(ctx, preprocess.Preprocess(img))
}

func (p *ONNXPredictor) PredictTensor(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
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

	copy(p.inputTensor.GetData(), input)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, len(p.classes))
	copy(scores, p.outputTensor.GetData())
	return rank.Softmax(scores), nil
}

func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inputTensor != nil {
		p.inputTensor.Destroy()
		p.inputTensor = nil
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
		p.outputTensor = nil
	}
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return fmt.Errorf("destroy onnx session: %w", err)
		}
		p.session = nil
		ort.DestroyEnvironment()
	}
	return nil
}

var (
	_ Predictor = (*BornPredictor)(nil)
	_ Predictor = (*ONNXPredictor)(nil)
)
