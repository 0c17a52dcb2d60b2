package predictor

import (
	"fmt"

	"github.com/predict-mdr/platform/pkg/ml/linear"
)

type logisticModel struct {
	weights linear.Weights
	version string
}

func newLogistic(artifact Artifact) (*logisticModel, error) {
	if len(artifact.Weights.Coefficients) == 0 {
		return nil, fmt.Errorf("logistic artifact has no coefficients")
	}
	return &logisticModel{
		weights: artifact.Weights,
		version: artifact.Version,
	}, nil
}

func (m *logisticModel) Predict(vector []float64) (float64, error) {
	if len(vector) != m.Width() {
		return 0, fmt.Errorf("input width %d, model expects %d", len(vector), m.Width())
	}
	return linear.Predict(m.weights, vector), nil
}

func (m *logisticModel) Width() int      { return len(m.weights.Coefficients) }
func (m *logisticModel) Version() string { return m.version }
