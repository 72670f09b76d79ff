// Package train fits the classifier to a folder-per-class dataset and writes
// the weights and class list artifacts.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Brownie44l1/car-classifier/internal/dataset"
	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/model"
)

const (
	DefaultBatchSize    = 16
	DefaultEpochs       = 5
	DefaultLearningRate = 1e-4
)

type Config struct {
	DatasetDir   string
	WeightsPath  string
	ClassesPath  string
	BatchSize    int
	Epochs       int
	LearningRate float64
	// Seed drives the shuffle order; 0 picks a random seed.
	Seed    uint64
	Workers int
	// BackbonePath optionally seeds the backbone from a saved artifact.
	BackbonePath string
	// ExportBackbonePath, when set, also writes the trained backbone alone.
	ExportBackbonePath string
}

func (c Config) validate() error {
	switch {
	case c.DatasetDir == "":
		return domain.WrapError(domain.ErrConfiguration, "train", errors.New("dataset directory is required"))
	case c.WeightsPath == "" || c.ClassesPath == "":
		return domain.WrapError(domain.ErrConfiguration, "train", errors.New("weights and classes paths are required"))
	case c.BatchSize <= 0:
		return domain.WrapError(domain.ErrConfiguration, "train", fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	case c.Epochs <= 0:
		return domain.WrapError(domain.ErrConfiguration, "train", fmt.Errorf("epochs must be positive, got %d", c.Epochs))
	case c.LearningRate <= 0:
		return domain.WrapError(domain.ErrConfiguration, "train", fmt.Errorf("learning rate must be positive, got %g", c.LearningRate))
	}
	return nil
}

// Report summarizes a finished run.
type Report struct {
	Classes     domain.ClassList
	Images      int
	EpochLoss   []float32
	WeightsPath string
	ClassesPath string
	Duration    time.Duration
}

type Trainer struct {
	cfg      Config
	logger   *slog.Logger
	progress io.Writer
	loadFunc dataset.LoadFunc
}

type Option func(*Trainer)

// WithProgress writes one "Epoch e/E - Loss: x.xxxx" line per epoch to w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

// WithLoadFunc replaces image decoding, mainly for tests.
func WithLoadFunc(fn dataset.LoadFunc) Option {
	return func(t *Trainer) { t.loadFunc = fn }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Trainer{cfg: cfg, logger: logger, progress: io.Discard}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run trains for the configured number of epochs and saves the weights
// followed by the class list. A cancelled context aborts between batches and
// nothing is saved.
func (t *Trainer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	if err := t.cfg.validate(); err != nil {
		return nil, err
	}

	t.logger.Info("Initializing", "dataset", t.cfg.DatasetDir)
	folder, err := dataset.Scan(t.cfg.DatasetDir)
	if err != nil {
		return nil, err
	}
	if folder.Len() == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "train", fmt.Errorf("no images under %s", t.cfg.DatasetDir))
	}
	t.logger.Info("Dataset scanned",
		"classes", len(folder.Classes),
		"images", folder.Len(),
		"per_class", folder.CountByClass())

	backend := model.NewBackend()
	net := model.NewClassifier(backend, len(folder.Classes))
	if t.cfg.BackbonePath != "" {
		if err := model.LoadBackbone(t.cfg.BackbonePath, backend, net); err != nil {
			return nil, err
		}
		t.logger.Info("Backbone loaded", "path", t.cfg.BackbonePath)
	} else {
		t.logger.Warn("No pretrained backbone configured; training from random initialization")
	}

	m := NewModel(backend, net, float32(t.cfg.LearningRate))
	defer m.Stop()

	loaderOpts := []dataset.LoaderOption{dataset.WithWorkers(t.cfg.Workers)}
	if t.loadFunc != nil {
		loaderOpts = append(loaderOpts, dataset.WithLoadFunc(t.loadFunc))
	}
	loader := dataset.NewLoader(folder, t.cfg.BatchSize, t.cfg.Seed, loaderOpts...)

	report := &Report{
		Classes:     folder.Classes,
		Images:      folder.Len(),
		WeightsPath: t.cfg.WeightsPath,
		ClassesPath: t.cfg.ClassesPath,
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		loss, err := t.runEpoch(ctx, m, loader, epoch)
		if err != nil {
			return nil, err
		}
		report.EpochLoss = append(report.EpochLoss, loss)
		fmt.Fprintf(t.progress, "Epoch %d/%d - Loss: %.4f\n", epoch, t.cfg.Epochs, loss)
		t.logger.Info(fmt.Sprintf("Epoch %d/%d - Loss: %.4f", epoch, t.cfg.Epochs, loss),
			"epoch", epoch, "loss", loss)
	}

	m.Stop()
	if err := t.checkpoint(net, folder.Classes); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	t.logger.Info("Done", "duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (t *Trainer) runEpoch(ctx context.Context, m *Model, loader *dataset.Loader, epoch int) (float32, error) {
	batches := loader.Epoch(ctx)
	defer batches.Close()

	var total float64
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := batches.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		t.logger.Debug("ForwardPass", "epoch", epoch, "batch", count+1, "size", batch.Size)
		logits, err := m.Forward(batch)
		if err != nil {
			return 0, err
		}

		t.logger.Debug("LossCompute", "epoch", epoch, "batch", count+1)
		lossRaw, loss, err := m.Loss(logits, batch.Labels)
		if err != nil {
			return 0, err
		}

		t.logger.Debug("BackwardPass", "epoch", epoch, "batch", count+1, "loss", loss)
		if err := m.BackwardAndStep(lossRaw); err != nil {
			return 0, err
		}
		t.logger.Debug("ParameterUpdate", "epoch", epoch, "batch", count+1)

		total += float64(loss)
		count++
	}
	if count == 0 {
		return 0, domain.WrapError(domain.ErrConfiguration, "train", errors.New("epoch produced no batches"))
	}
	return float32(total / float64(count)), nil
}

func (t *Trainer) checkpoint(net *model.Classifier[model.Backend], classes domain.ClassList) error {
	t.logger.Info("Checkpointed", "weights", t.cfg.WeightsPath, "classes", t.cfg.ClassesPath)
	if err := model.SaveWeights(t.cfg.WeightsPath, net, classes); err != nil {
		return err
	}
	if err := domain.WriteClassList(t.cfg.ClassesPath, classes); err != nil {
		return err
	}
	if t.cfg.ExportBackbonePath != "" {
		if err := model.SaveBackbone(t.cfg.ExportBackbonePath, net); err != nil {
			return err
		}
		t.logger.Info("Backbone exported", "path", t.cfg.ExportBackbonePath)
	}
	return nil
}
