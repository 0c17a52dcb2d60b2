package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/ml/linear"
	"github.com/predict-mdr/platform/pkg/serving/predictor"
)

// trainingSet is a batch of assembled feature vectors with 0/1 labels.
type trainingSet struct {
	Samples [][]float64 `json:"samples"`
	Labels  []float64   `json:"labels"`
}

// NewTrainCmd creates the 'train' command.
func NewTrainCmd() *cobra.Command {
	var (
		output  string
		version string
		opts    linear.Options
	)

	cmd := &cobra.Command{
		Use:   "train <training-set.json>",
		Short: "Fit a logistic scoring artifact from labelled feature vectors",
		Example: `  mdrtb train vectors.json -o artifacts/model.json
  mdrtb train vectors.json --epochs 500 --learning-rate 0.05`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var set trainingSet
			if err := json.Unmarshal(content, &set); err != nil {
				return fmt.Errorf("decode training set: %w", err)
			}

			schema, err := features.LoadSchema(loadConfig().FeatureSchemaPath)
			if err != nil {
				return err
			}
			opts.Width = schema.Width()
			weights, metrics, err := linear.TrainLogistic(set.Samples, set.Labels, opts)
			if err != nil {
				return err
			}
			artifact := predictor.Artifact{
				Format:       predictor.FormatLogistic,
				Version:      version,
				FeatureNames: schema.Columns(),
				Weights:      weights,
			}
			// Refuse to write anything the serving side would reject.
			if _, err := predictor.Build(artifact); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := printJSON(out, artifact); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "trained on %d samples: loss %.4f, accuracy %.3f\n",
				len(set.Samples), metrics.Loss, metrics.Accuracy)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the artifact to a file instead of stdout")
	cmd.Flags().StringVar(&version, "version", "logistic-v1", "Model version recorded in the artifact")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", 200, "Gradient descent epochs")
	cmd.Flags().Float64Var(&opts.LearningRate, "learning-rate", 0.01, "Gradient descent step size")
	return cmd
}
