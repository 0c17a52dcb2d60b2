package predictor

import (
	"encoding/json"
	"fmt"

	"github.com/predict-mdr/platform/pkg/ml/linear"
)

const (
	FormatSequential = "sequential"
	FormatLogistic   = "logistic"
)

// Artifact is the on-disk model definition. Sequential artifacts describe a
// stack of lstm/dense layers fed with a [timesteps, width] sequence; logistic
// artifacts carry a bias and one coefficient per feature.
type Artifact struct {
	Format       string         `json:"format"`
	Version      string         `json:"version"`
	FeatureNames []string       `json:"feature_names,omitempty"`
	InputShape   []int          `json:"input_shape,omitempty"`
	Layers       []LayerSpec    `json:"layers,omitempty"`
	Weights      linear.Weights `json:"weights"`
}

type LayerSpec struct {
	Type                string      `json:"type"` // dense, lstm
	Units               int         `json:"units"`
	Activation          string      `json:"activation,omitempty"`
	RecurrentActivation string      `json:"recurrent_activation,omitempty"`
	Kernel              [][]float64 `json:"kernel"`
	RecurrentKernel     [][]float64 `json:"recurrent_kernel,omitempty"`
	Bias                []float64   `json:"bias,omitempty"`
}

// Model is a loaded, immutable inference handle.
type Model interface {
	Predict(vector []float64) (float64, error)
	Width() int
	Version() string
}

// Parse decodes and validates an artifact into a ready model.
func Parse(data []byte) (Model, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return Build(artifact)
}

func Build(artifact Artifact) (Model, error) {
	format := artifact.Format
	if format == "" {
		if len(artifact.Layers) > 0 {
			format = FormatSequential
		} else {
			format = FormatLogistic
		}
	}
	var (
		model Model
		err   error
	)
	switch format {
	case FormatSequential:
		model, err = newNetwork(artifact)
	case FormatLogistic:
		model, err = newLogistic(artifact)
	default:
		return nil, fmt.Errorf("unsupported model format %q", artifact.Format)
	}
	if err != nil {
		return nil, err
	}
	if n := len(artifact.FeatureNames); n > 0 && n != model.Width() {
		return nil, fmt.Errorf("artifact lists %d feature names for input width %d", n, model.Width())
	}
	return model, nil
}
