// Package cli defines the carclassifier commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/car-classifier/internal/config"
	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/fetch"
	"github.com/Brownie44l1/car-classifier/internal/logging"
	"github.com/Brownie44l1/car-classifier/internal/model"
)

const service = "carclassifier"

// app carries state resolved by the root command for its subcommands.
type app struct {
	configPath  string
	logLevel    string
	weightsPath string
	classesPath string

	openLog func(service string, cfg logging.Config) (*slog.Logger, io.Closer)

	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newApp() *app {
	return &app{openLog: logging.New}
}

// Execute runs the command line and releases the log file however the
// command ends.
func Execute(ctx context.Context, version string) error {
	return newApp().run(ctx, func(ctx context.Context, root *cobra.Command) error {
		return fang.Execute(ctx, root,
			fang.WithVersion(version),
			fang.WithNotifySignal(os.Interrupt, os.Kill),
		)
	})
}

func (a *app) run(ctx context.Context, exec func(context.Context, *cobra.Command) error) error {
	defer a.close()
	return exec(ctx, a.rootCmd())
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carclassifier",
		Short: "Train and serve a car make/model image classifier",
		Long: `carclassifier fine-tunes a convolutional image classifier on a
folder-per-class dataset and serves predictions over HTTP or the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&a.weightsPath, "model", "", "Weights file (default from config: model.born)")
	cmd.PersistentFlags().StringVar(&a.classesPath, "classes", "", "Class list file (default from config: classes.txt)")

	cmd.AddCommand(newTrainCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newPredictCmd(a))

	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.weightsPath != "" {
		cfg.Model.Weights = a.weightsPath
	}
	if a.classesPath != "" {
		cfg.Model.Classes = a.classesPath
	}
	a.cfg = cfg
	a.logger, a.logCloser = a.openLog(service, cfg.Log)
	slog.SetDefault(a.logger)
	return nil
}

// loadPredictor fetches missing artifacts, reads the class list and builds
// the configured backend. Weights load on the first prediction; onLoad is
// told how long that took.
func (a *app) loadPredictor(ctx context.Context, onLoad model.LoadObserver) (model.Predictor, error) {
	fetcher := fetch.NewFetcher(a.logger)

	if a.cfg.Model.ClassesURL != "" {
		if err := fetcher.EnsureFile(ctx, a.cfg.Model.Classes, a.cfg.Model.ClassesURL); err != nil {
			return nil, err
		}
	}
	classes, err := domain.ReadClassList(a.cfg.Model.Classes)
	if err != nil {
		return nil, err
	}

	switch a.cfg.Model.Backend {
	case config.BackendONNX:
		if err := fetcher.EnsureFile(ctx, a.cfg.Model.ONNXModel, a.cfg.Model.URL); err != nil {
			return nil, err
		}
		return model.NewONNXPredictor(a.cfg.Model.ONNXModel, a.cfg.Model.ONNXLib, classes, a.logger,
			model.WithONNXLoadObserver(onLoad)), nil
	default:
		if err := fetcher.EnsureFile(ctx, a.cfg.Model.Weights, a.cfg.Model.URL); err != nil {
			return nil, err
		}
		return model.NewBornPredictor(a.cfg.Model.Weights, classes,
			model.WithLogger(a.logger), model.WithLoadObserver(onLoad)), nil
	}
}
