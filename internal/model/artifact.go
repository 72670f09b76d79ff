package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
)

// Weight artifacts use the born native format: a JSON header followed by
// raw float32 tensors. The header metadata pairs the weights with the class
// list they were trained against.
const (
	ModelType    = "ImageClassifier"
	BackboneType = "ImageClassifierBackbone"

	metaArchitecture = "architecture"
	metaNumClasses   = "num_classes"
	metaImageSize    = "image_size"
	metaClasses      = "classes"
)

func weightsMetadata(classes domain.ClassList) map[string]string {
	return map[string]string{
		metaArchitecture: Architecture,
		metaNumClasses:   strconv.Itoa(len(classes)),
		metaImageSize:    strconv.Itoa(preprocess.Size),
		metaClasses:      strings.Join(classes, "\n"),
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// SaveWeights writes the full classifier.
func SaveWeights(path string, c *Classifier[Backend], classes domain.ClassList) error {
	if c.NumClasses() != len(classes) {
		return domain.WrapError(domain.ErrShapeMismatch, "save weights",
			fmt.Errorf("head has %d outputs, class list has %d", c.NumClasses(), len(classes)))
	}
	if err := ensureDir(path); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	if err := nn.Save[Backend](c, path, ModelType, weightsMetadata(classes)); err != nil {
		return fmt.Errorf("save weights %s: %w", path, err)
	}
	return nil
}

// LoadWeights builds a classifier sized to classes and fills it from path.
// A head trained for a different class count fails with ErrShapeMismatch; a
// class list that differs from the one recorded at training time fails with
// ErrConfiguration.
func LoadWeights(path string, backend Backend, classes domain.ClassList) (*Classifier[Backend], error) {
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, domain.WrapError(domain.ErrArtifactUnavailable, "load weights", err)
	}

	c := NewClassifier(backend, len(classes))
	header, err := nn.Load[Backend](path, backend, c)
	if err != nil {
		if domain.IsKind(err, domain.ErrShapeMismatch) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, domain.WrapError(domain.ErrArtifactUnavailable, "load weights "+path, err)
	}
	if err := checkMetadata(header.Metadata, classes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func checkMetadata(meta map[string]string, classes domain.ClassList) error {
	if arch, ok := meta[metaArchitecture]; ok && arch != Architecture {
		return domain.WrapError(domain.ErrShapeMismatch, "check weights",
			fmt.Errorf("architecture %q, expected %q", arch, Architecture))
	}
	if n, ok := meta[metaNumClasses]; ok && n != strconv.Itoa(len(classes)) {
		return domain.WrapError(domain.ErrShapeMismatch, "check weights",
			fmt.Errorf("weights were trained for %s classes, class list has %d", n, len(classes)))
	}
	if recorded, ok := meta[metaClasses]; ok {
		trained := domain.ClassList(strings.Split(recorded, "\n"))
		if !trained.Equal(classes) {
			return domain.WrapError(domain.ErrConfiguration, "check weights",
				fmt.Errorf("class list order differs from training: trained %v, got %v", []string(trained), []string(classes)))
		}
	}
	return nil
}

// SaveBackbone writes only the backbone tensors so they can seed another run.
func SaveBackbone(path string, c *Classifier[Backend]) error {
	if err := ensureDir(path); err != nil {
		return fmt.Errorf("create backbone dir: %w", err)
	}
	meta := map[string]string{
		metaArchitecture: Architecture,
		metaImageSize:    strconv.Itoa(preprocess.Size),
	}
	if err := nn.Save[Backend](backboneModule[Backend]{c}, path, BackboneType, meta); err != nil {
		return fmt.Errorf("save backbone %s: %w", path, err)
	}
	return nil
}

// LoadBackbone fills c's backbone from a backbone or full weight artifact.
// The head is left untouched.
func LoadBackbone(path string, backend Backend, c *Classifier[Backend]) error {
	if _, err := os.Stat(path); err != nil {
		return domain.WrapError(domain.ErrArtifactUnavailable, "load backbone", err)
	}
	header, err := nn.Load[Backend](path, backend, backboneModule[Backend]{c})
	if err != nil {
		if domain.IsKind(err, domain.ErrShapeMismatch) {
			return fmt.Errorf("%s: %w", path, err)
		}
		return domain.WrapError(domain.ErrArtifactUnavailable, "load backbone "+path, err)
	}
	if arch, ok := header.Metadata[metaArchitecture]; ok && arch != Architecture {
		return domain.WrapError(domain.ErrShapeMismatch, "load backbone",
			fmt.Errorf("architecture %q, expected %q", arch, Architecture))
	}
	return nil
}
