package risk

import (
	"github.com/montanaflynn/stats"
)

// DefaultThreshold separates positive from negative patients. A mean equal
// to the threshold is positive.
const DefaultThreshold = 0.5

const (
	ClassPositive = "Yes"
	ClassNegative = "No"
)

type Aggregate struct {
	Average        float64
	Positive       bool
	Classification string
}

// AggregatePredictions averages per-event probabilities. Empty input is
// refused with ErrNoEvents.
func AggregatePredictions(probabilities []float64, threshold float64) (Aggregate, error) {
	if len(probabilities) == 0 {
		return Aggregate{}, ErrNoEvents
	}
	mean, err := stats.Mean(probabilities)
	if err != nil {
		return Aggregate{}, err
	}
	agg := Aggregate{Average: mean, Positive: mean >= threshold, Classification: ClassNegative}
	if agg.Positive {
		agg.Classification = ClassPositive
	}
	return agg, nil
}
