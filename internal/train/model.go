package train

import (
	"fmt"

	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/Brownie44l1/car-classifier/internal/dataset"
	"github.com/Brownie44l1/car-classifier/internal/model"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
)

// Model is a classifier with gradient recording on and an Adam optimizer
// bound to its parameters.
type Model struct {
	backend   model.Backend
	net       *model.Classifier[model.Backend]
	optimizer *optim.Adam[model.Backend]
}

func NewModel(backend model.Backend, net *model.Classifier[model.Backend], lr float32) *Model {
	return &Model{
		backend: backend,
		net:     net,
		optimizer: optim.NewAdam(net.Parameters(), optim.AdamConfig{
			LR:    lr,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend),
	}
}

func (m *Model) Classifier() *model.Classifier[model.Backend] { return m.net }

// Forward records the forward pass on the tape and returns [N, classes] logits.
func (m *Model) Forward(batch *dataset.Batch) (*tensor.Tensor[float32, model.Backend], error) {
	m.optimizer.ZeroGrad()
	m.backend.Tape().Clear()
	m.backend.Tape().StartRecording()

	x, err := tensor.FromSlice(batch.Images,
		tensor.Shape{batch.Size, preprocess.Channels, preprocess.Size, preprocess.Size}, m.backend)
	if err != nil {
		return nil, fmt.Errorf("build batch tensor: %w", err)
	}
	return m.net.Forward(x), nil
}

// Loss is the mean cross-entropy of logits against int32 labels.
func (m *Model) Loss(logits *tensor.Tensor[float32, model.Backend], labels []int32) (*tensor.RawTensor, float32, error) {
	targets, err := tensor.FromSlice(labels, tensor.Shape{len(labels)}, m.backend)
	if err != nil {
		return nil, 0, fmt.Errorf("build label tensor: %w", err)
	}
	loss := m.backend.CrossEntropy(logits.Raw(), targets.Raw())
	return loss, loss.AsFloat32()[0], nil
}

// BackwardAndStep backpropagates loss and applies one Adam update in place.
func (m *Model) BackwardAndStep(loss *tensor.RawTensor) error {
	defer m.backend.Tape().Clear()

	outputGrad, err := tensor.NewRaw(loss.Shape(), loss.DType(), m.backend.Device())
	if err != nil {
		return fmt.Errorf("create output gradient: %w", err)
	}
	outputGrad.AsFloat32()[0] = 1

	grads := m.backend.Tape().Backward(outputGrad, m.backend)
	m.optimizer.Step(grads)
	return nil
}

// Stop switches gradient recording off so the network can serve predictions.
func (m *Model) Stop() {
	m.backend.Tape().StopRecording()
	m.backend.Tape().Clear()
}
