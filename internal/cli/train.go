package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/car-classifier/internal/train"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		dataset, backbone, exportBackbone string
		batchSize, epochs, workers        int
		lr                                float64
		seed                              uint64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune the classifier on a folder-per-class dataset",
		Long: `Trains the classifier on DATASET/<class>/<image> and writes the
weights and the class list once training finishes.`,
		Example: `  # Train with defaults (./dataset, 5 epochs)
  carclassifier train

  # Custom dataset and schedule
  carclassifier train --dataset ./cars --epochs 10 --batch-size 32`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg := &a.cfg
			if flags.Changed("dataset") {
				cfg.Dataset = dataset
			}
			if flags.Changed("backbone") {
				cfg.Model.Backbone = backbone
			}
			if flags.Changed("export-backbone") {
				cfg.Train.ExportBackbone = exportBackbone
			}
			if flags.Changed("batch-size") {
				cfg.Train.BatchSize = batchSize
			}
			if flags.Changed("epochs") {
				cfg.Train.Epochs = epochs
			}
			if flags.Changed("lr") {
				cfg.Train.LearningRate = lr
			}
			if flags.Changed("seed") {
				cfg.Train.Seed = seed
			}
			if flags.Changed("workers") {
				cfg.Train.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			trainer := train.New(train.Config{
				DatasetDir:         cfg.Dataset,
				WeightsPath:        cfg.Model.Weights,
				ClassesPath:        cfg.Model.Classes,
				BatchSize:          cfg.Train.BatchSize,
				Epochs:             cfg.Train.Epochs,
				LearningRate:       cfg.Train.LearningRate,
				Seed:               cfg.Train.Seed,
				Workers:            cfg.Train.Workers,
				BackbonePath:       cfg.Model.Backbone,
				ExportBackbonePath: cfg.Train.ExportBackbone,
			}, a.logger, train.WithProgress(cmd.OutOrStdout()))

			report, err := trainer.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trained on %d images across %d classes in %s\n",
				report.Images, len(report.Classes), report.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Model saved to %s\n", report.WeightsPath)
			fmt.Fprintf(out, "Classes saved to %s\n", report.ClassesPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dataset, "dataset", "", "Dataset root with one folder per class (default from config: dataset)")
	flags.StringVar(&backbone, "backbone", "", "Optional pretrained backbone artifact")
	flags.StringVar(&exportBackbone, "export-backbone", "", "Also write the trained backbone to this path")
	flags.IntVar(&batchSize, "batch-size", train.DefaultBatchSize, "Images per batch")
	flags.IntVar(&epochs, "epochs", train.DefaultEpochs, "Passes over the dataset")
	flags.Float64Var(&lr, "lr", train.DefaultLearningRate, "Adam learning rate")
	flags.Uint64Var(&seed, "seed", 0, "Shuffle seed (0 = random)")
	flags.IntVar(&workers, "workers", 0, "Images decoded in parallel per batch (0 = GOMAXPROCS)")

	return cmd
}
