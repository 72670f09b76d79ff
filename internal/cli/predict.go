package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/car-classifier/internal/model"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/rank"
)

func newPredictCmd(a *app) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:     "predict <image>",
		Short:   "Classify a single image file",
		Example: `  carclassifier predict ./photos/car.jpg`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("backend") {
				a.cfg.Model.Backend = backend
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			img, err := preprocess.DecodeFile(args[0])
			if err != nil {
				return err
			}

			predictor, err := a.loadPredictor(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer predictor.Close()

			prediction, err := model.Predict(cmd.Context(), predictor, img)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Prediction: %s (%s%%)\n", prediction.Best.Class, rank.FormatPercent(prediction.Best.Confidence))
			fmt.Fprintf(out, "Top %d:\n", len(prediction.Top))
			for i, r := range prediction.Top {
				fmt.Fprintf(out, "  %d. %s: %s%%\n", i+1, r.Class, rank.FormatPercent(r.Confidence))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "born", "Inference backend: born or onnx")
	return cmd
}
