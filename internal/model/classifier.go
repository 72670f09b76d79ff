package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
)

// Backend is the compute backend every classifier runs on. The autodiff
// wrapper is needed for ReLU even at inference; gradient recording is
// switched off there instead.
type Backend = *autodiff.Backend[*cpu.Backend]

// NewBackend creates a CPU backend with autodiff support.
func NewBackend() Backend {
	return autodiff.New(cpu.New())
}

const (
	// Architecture names the layer layout recorded in weight artifacts.
	Architecture = "convnet3-224"

	// FeatureSize is the flattened backbone output: 32 channels × 7 × 7.
	FeatureSize = 32 * 7 * 7

	backbonePrefix = "backbone."
	headPrefix     = "head."
)

// Classifier is a small convolutional backbone followed by a linear head
// sized to the class count.
//
//	[N,3,224,224] conv7x7/2 → relu → pool2 → [N,8,56,56]
//	              conv3x3   → relu → pool2 → [N,16,28,28]
//	              conv3x3   → relu → pool4 → [N,32,7,7]
//	              flatten → linear → [N,classes]
type Classifier[B tensor.Backend] struct {
	conv1 *nn.Conv2D[B]
	conv2 *nn.Conv2D[B]
	conv3 *nn.Conv2D[B]
	relu  *nn.ReLU[B]
	pool1 *nn.MaxPool2D[B]
	pool2 *nn.MaxPool2D[B]
	pool3 *nn.MaxPool2D[B]
	head  *nn.Linear[B]

	numClasses int
}

func NewClassifier[B tensor.Backend](backend B, numClasses int) *Classifier[B] {
	if numClasses <= 0 {
		panic(fmt.Sprintf("classifier: invalid class count %d", numClasses))
	}
	return &Classifier[B]{
		conv1:      nn.NewConv2D(preprocess.Channels, 8, 7, 7, 2, 3, true, backend),
		conv2:      nn.NewConv2D(8, 16, 3, 3, 1, 1, true, backend),
		conv3:      nn.NewConv2D(16, 32, 3, 3, 1, 1, true, backend),
		relu:       nn.NewReLU[B](),
		pool1:      nn.NewMaxPool2D(2, 2, backend),
		pool2:      nn.NewMaxPool2D(2, 2, backend),
		pool3:      nn.NewMaxPool2D(4, 4, backend),
		head:       nn.NewLinear(FeatureSize, numClasses, backend),
		numClasses: numClasses,
	}
}

func (c *Classifier[B]) NumClasses() int { return c.numClasses }

// Features runs the backbone only and returns [N, FeatureSize].
func (c *Classifier[B]) Features(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != preprocess.Channels || shape[2] != preprocess.Size || shape[3] != preprocess.Size {
		panic(fmt.Sprintf("classifier: expected input [N,%d,%d,%d], got %v",
			preprocess.Channels, preprocess.Size, preprocess.Size, shape))
	}

	x := c.pool1.Forward(c.relu.Forward(c.conv1.Forward(input)))
	x = c.pool2.Forward(c.relu.Forward(c.conv2.Forward(x)))
	x = c.pool3.Forward(c.relu.Forward(c.conv3.Forward(x)))

	return x.Reshape(shape[0], FeatureSize)
}

// Forward returns raw class scores [N, classes]. No softmax is applied.
func (c *Classifier[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return c.head.Forward(c.Features(input))
}

func (c *Classifier[B]) Parameters() []*nn.Parameter[B] {
	named := c.namedParameters()
	params := make([]*nn.Parameter[B], 0, len(named))
	for _, p := range named {
		params = append(params, p.param)
	}
	return params
}

// NumParameters counts trainable scalars.
func (c *Classifier[B]) NumParameters() int {
	total := 0
	for _, p := range c.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

type namedParameter[B tensor.Backend] struct {
	name  string
	param *nn.Parameter[B]
}

func (c *Classifier[B]) namedParameters() []namedParameter[B] {
	var out []namedParameter[B]
	add := func(prefix string, params []*nn.Parameter[B]) {
		suffixes := []string{"weight", "bias"}
		for i, p := range params {
			out = append(out, namedParameter[B]{name: prefix + suffixes[i], param: p})
		}
	}
	add(backbonePrefix+"conv1.", c.conv1.Parameters())
	add(backbonePrefix+"conv2.", c.conv2.Parameters())
	add(backbonePrefix+"conv3.", c.conv3.Parameters())
	add(headPrefix, c.head.Parameters())
	return out
}

func (c *Classifier[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for _, p := range c.namedParameters() {
		state[p.name] = p.param.Tensor().Raw()
	}
	return state
}

// LoadStateDict copies every tensor into the classifier. Any missing tensor
// or shape difference is a ShapeMismatchError; nothing is truncated.
func (c *Classifier[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return c.load(state, func(string) bool { return true })
}

// LoadBackboneStateDict loads only backbone tensors, leaving the head as is.
func (c *Classifier[B]) LoadBackboneStateDict(state map[string]*tensor.RawTensor) error {
	return c.load(state, func(name string) bool { return strings.HasPrefix(name, backbonePrefix) })
}

// BackboneStateDict returns only backbone tensors.
func (c *Classifier[B]) BackboneStateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for name, raw := range c.StateDict() {
		if strings.HasPrefix(name, backbonePrefix) {
			state[name] = raw
		}
	}
	return state
}

func (c *Classifier[B]) load(state map[string]*tensor.RawTensor, want func(string) bool) error {
	named := c.namedParameters()

	// Validate everything before copying so a failed load leaves weights intact.
	for _, p := range named {
		if !want(p.name) {
			continue
		}
		raw, ok := state[p.name]
		if !ok {
			return domain.WrapError(domain.ErrShapeMismatch, "load weights", fmt.Errorf("missing tensor %q", p.name))
		}
		expected := p.param.Tensor().Shape()
		if !raw.Shape().Equal(expected) {
			if p.name == headPrefix+"weight" && len(raw.Shape()) == 2 && raw.Shape()[1] == FeatureSize {
				return domain.WrapError(domain.ErrShapeMismatch, "load weights",
					fmt.Errorf("weights were trained for %d classes, class list has %d", raw.Shape()[0], c.numClasses))
			}
			return domain.WrapError(domain.ErrShapeMismatch, "load weights",
				fmt.Errorf("tensor %q: expected shape %v, got %v", p.name, expected, raw.Shape()))
		}
		if raw.DType() != tensor.Float32 {
			return domain.WrapError(domain.ErrShapeMismatch, "load weights",
				fmt.Errorf("tensor %q: expected float32, got %v", p.name, raw.DType()))
		}
	}

	for _, p := range named {
		if !want(p.name) {
			continue
		}
		copy(p.param.Tensor().Data(), state[p.name].AsFloat32())
	}
	return nil
}

// backboneModule exposes only the backbone tensors to the born serializer.
type backboneModule[B tensor.Backend] struct {
	*Classifier[B]
}

func (b backboneModule[B]) StateDict() map[string]*tensor.RawTensor {
	return b.BackboneStateDict()
}

func (b backboneModule[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return b.LoadBackboneStateDict(state)
}

var (
	_ nn.Module[Backend] = (*Classifier[Backend])(nil)
	_ nn.Module[Backend] = backboneModule[Backend]{}
)
