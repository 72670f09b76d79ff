package model

import (
	"context"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/testutil"
)

func savedPredictor(t *testing.T, classes domain.ClassList, opts ...BornOption) *BornPredictor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, SaveWeights(path, NewClassifier(NewBackend(), len(classes)), classes))
	return NewBornPredictor(path, classes, opts...)
}

func TestBornPredictorProbabilitiesSumToOne(t *testing.T) {
	classes := domain.ClassList{"audi", "bmw", "ford", "tesla"}
	p := savedPredictor(t, classes)

	for _, size := range [][2]int{{224, 224}, {640, 480}, {7, 300}} {
		img := testutil.SolidImage(size[0], size[1], color.RGBA{R: 200, G: 40, B: 90, A: 255})
		probs, err := p.PredictProbabilities(context.Background(), img)
		require.NoError(t, err)
		require.Len(t, probs, len(classes))

		var sum float64
		for _, v := range probs {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
			sum += float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.NotNil(t, p.model)
}

func TestBornPredictorDeterministic(t *testing.T) {
	p := savedPredictor(t, domain.ClassList{"a", "b"})
	img := testutil.SolidImage(50, 50, color.RGBA{R: 10, G: 250, B: 30, A: 255})

	first, err := p.PredictProbabilities(context.Background(), img)
	require.NoError(t, err)
	second, err := p.PredictProbabilities(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBornPredictorConcurrentCalls(t *testing.T) {
	p := savedPredictor(t, domain.ClassList{"a", "b", "c"})
	input := preprocess.Preprocess(testutil.SolidImage(20, 20, color.RGBA{R: 1, G: 2, B: 3, A: 255}))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.PredictTensor(context.Background(), input)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestBornPredictorLoadErrorIsSticky(t *testing.T) {
	p := NewBornPredictor(filepath.Join(t.TempDir(), "missing.born"), domain.ClassList{"a", "b"})

	_, err := p.PredictTensor(context.Background(), make(preprocess.Tensor, preprocess.Len))
	assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
	assert.ErrorIs(t, p.Load(), domain.ErrArtifactUnavailable)
}

func TestBornPredictorLoadsOnFirstPrediction(t *testing.T) {
	var loads []time.Duration
	p := savedPredictor(t, domain.ClassList{"a", "b"}, WithLoadObserver(func(d time.Duration) {
		loads = append(loads, d)
	}))
	assert.Nil(t, p.model)
	assert.Empty(t, loads)

	input := make(preprocess.Tensor, preprocess.Len)
	for i := 0; i < 2; i++ {
		_, err := p.PredictTensor(context.Background(), input)
		require.NoError(t, err)
	}
	assert.NotNil(t, p.model)
	assert.Len(t, loads, 1)
}

func TestLoadObserverSkipsFailedLoads(t *testing.T) {
	calls := 0
	observe := func(time.Duration) { calls++ }

	tests := []struct {
		name string
		load func(path string) error
	}{
		{
			name: "born",
			load: func(path string) error {
				return NewBornPredictor(path, domain.ClassList{"a"}, WithLoadObserver(observe)).Load()
			},
		},
		{
			name: "onnx",
			load: func(path string) error {
				return NewONNXPredictor(path, "", domain.ClassList{"a"}, nil, WithONNXLoadObserver(observe)).Load()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load(filepath.Join(t.TempDir(), "missing"))
			assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
			assert.Zero(t, calls)
		})
	}
}

func TestBornPredictorRejectsBadInput(t *testing.T) {
	p := savedPredictor(t, domain.ClassList{"a", "b"})

	_, err := p.PredictTensor(context.Background(), make(preprocess.Tensor, 10))
	assert.Error(t, err)

	_, err = p.PredictProbabilities(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrDecode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.PredictTensor(ctx, make(preprocess.Tensor, preprocess.Len))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBornPredictorFromModel(t *testing.T) {
	backend := NewBackend()
	_, err := NewBornPredictorFromModel(backend, NewClassifier(backend, 3), domain.ClassList{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)

	p, err := NewBornPredictorFromModel(backend, NewClassifier(backend, 2), domain.ClassList{"a", "b"})
	require.NoError(t, err)
	probs, err := p.PredictTensor(context.Background(), make(preprocess.Tensor, preprocess.Len))
	require.NoError(t, err)
	assert.Len(t, probs, 2)
}

func TestNewPrediction(t *testing.T) {
	classes := domain.ClassList{"audi", "bmw", "ford", "tesla"}
	p := NewPrediction(classes, []float32{0.05, 0.60, 0.10, 0.25}, 3)

	assert.Equal(t, RankedClass{Index: 1, Class: "bmw", Confidence: 0.60}, p.Best)
	require.Len(t, p.Top, 3)
	assert.Equal(t, []string{"bmw", "tesla", "ford"}, []string{p.Top[0].Class, p.Top[1].Class, p.Top[2].Class})

	resp := p.Response()
	assert.Equal(t, "bmw", resp.Class)
	assert.Len(t, resp.Predictions, 4)
	assert.InDelta(t, 0.25, resp.Predictions["tesla"], 1e-9)
}

func TestCheckOutputWidth(t *testing.T) {
	tests := []struct {
		name    string
		dims    ort.Shape
		classes int
		wantErr bool
	}{
		{"match", ort.NewShape(1, 4), 4, false},
		{"dynamic", ort.NewShape(-1, -1), 4, false},
		{"mismatch", ort.NewShape(1, 196), 4, true},
		{"empty", ort.Shape{}, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOutputWidth(tt.dims, tt.classes)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrShapeMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestONNXPredictorMissingModel(t *testing.T) {
	p := NewONNXPredictor(filepath.Join(t.TempDir(), "model.onnx"), "", domain.ClassList{"a"}, nil)
	assert.ErrorIs(t, p.Load(), domain.ErrArtifactUnavailable)
	assert.NoError(t, p.Close())
}
