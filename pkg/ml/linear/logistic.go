// Package linear holds the logistic baseline used for risk scoring and its
// offline trainer.
package linear

import (
	"errors"
	"fmt"
	"math"
)

type Options struct {
	Epochs       int
	LearningRate float64
	// Width is the feature count every sample must have, normally the
	// schema width of the serving model. Zero accepts the first sample's.
	Width int
}

type Weights struct {
	Bias         float64   `json:"bias"`
	Coefficients []float64 `json:"coefficients"`
}

type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

var ErrEmptyTrainingSet = errors.New("training set is empty")

// TrainingSetError points at the first sample or label that cannot be used.
type TrainingSetError struct {
	Index  int
	Reason string
}

func (e *TrainingSetError) Error() string {
	return fmt.Sprintf("training sample %d: %s", e.Index, e.Reason)
}

// Validate checks that samples and labels describe a binary problem over
// vectors of one width.
func Validate(samples [][]float64, labels []float64, width int) error {
	if len(samples) == 0 {
		return ErrEmptyTrainingSet
	}
	if len(samples) != len(labels) {
		return fmt.Errorf("%d samples but %d labels", len(samples), len(labels))
	}
	if width <= 0 {
		width = len(samples[0])
	}
	for i, sample := range samples {
		if len(sample) != width {
			return &TrainingSetError{Index: i, Reason: fmt.Sprintf("has %d features, want %d", len(sample), width)}
		}
		for _, v := range sample {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &TrainingSetError{Index: i, Reason: "holds a non-finite feature"}
			}
		}
		if labels[i] != 0 && labels[i] != 1 {
			return &TrainingSetError{Index: i, Reason: fmt.Sprintf("label %v is not 0 or 1", labels[i])}
		}
	}
	return nil
}

// TrainLogistic fits weights by batch gradient descent after validating the
// set against opts.Width. It produces logistic scoring artifacts from
// labelled feature vectors.
func TrainLogistic(samples [][]float64, labels []float64, opts Options) (Weights, Metrics, error) {
	if err := Validate(samples, labels, opts.Width); err != nil {
		return Weights{}, Metrics{}, err
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.01
	}

	n := len(samples)
	featureCount := len(samples[0])
	weights := make([]float64, featureCount)
	var bias float64

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		grad := make([]float64, featureCount)
		var biasGrad float64
		for i, sample := range samples {
			residual := sigmoid(dot(weights, sample)+bias) - labels[i]
			for j := range grad {
				grad[j] += residual * sample[j]
			}
			biasGrad += residual
		}
		for j := range weights {
			weights[j] -= opts.LearningRate * grad[j] / float64(n)
		}
		bias -= opts.LearningRate * biasGrad / float64(n)
	}

	loss, accuracy := evaluate(weights, bias, samples, labels)
	return Weights{Bias: bias, Coefficients: weights}, Metrics{Loss: loss, Accuracy: accuracy}, nil
}

// Predict returns the positive-class probability. sample must be at least as
// wide as the coefficients.
func Predict(weights Weights, sample []float64) float64 {
	return sigmoid(dot(weights.Coefficients, sample) + weights.Bias)
}

func dot(weights []float64, sample []float64) float64 {
	var sum float64
	for i := 0; i < len(weights); i++ {
		sum += weights[i] * sample[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func evaluate(weights []float64, bias float64, samples [][]float64, labels []float64) (float64, float64) {
	var loss float64
	var correct int
	for i, sample := range samples {
		prediction := sigmoid(dot(weights, sample) + bias)
		loss += -labels[i]*math.Log(prediction+1e-9) - (1-labels[i])*math.Log(1-prediction+1e-9)
		if (prediction >= 0.5 && labels[i] == 1) || (prediction < 0.5 && labels[i] == 0) {
			correct++
		}
	}
	loss /= float64(len(samples))
	accuracy := float64(correct) / float64(len(samples))
	return loss, accuracy
}
