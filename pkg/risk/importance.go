package risk

import (
	"context"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
)

// ScoreFunc scores one vector.
type ScoreFunc func(vector []float64) (float64, error)

// Estimator computes permutation feature importance. Every column draws from
// its own stream so results do not depend on scheduling.
type Estimator struct {
	Seed    int64
	Workers int
	// RandFor overrides the per-column random source.
	RandFor func(column int) *rand.Rand
}

func (e Estimator) rng(column int) *rand.Rand {
	if e.RandFor != nil {
		return e.RandFor(column)
	}
	return rand.New(rand.NewSource(e.Seed + int64(column)*7919))
}

// Estimate returns baseline minus the mean score after shuffling each column
// across vectors. baseline must be the mean score of the unshuffled vectors.
// A single vector yields zeros without scoring anything.
func (e Estimator) Estimate(ctx context.Context, score ScoreFunc, vectors []features.FeatureVector, baseline float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, ErrNoEvents
	}
	width := len(vectors[0])
	importance := make([]float64, width)
	if len(vectors) == 1 {
		return importance, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for c := 0; c < width; c++ {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			shuffled, err := e.shuffledScore(score, vectors, c)
			if err != nil {
				return err
			}
			importance[c] = baseline - shuffled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.ObserveInference(width * len(vectors))
	return importance, nil
}

func (e Estimator) shuffledScore(score ScoreFunc, vectors []features.FeatureVector, column int) (float64, error) {
	n := len(vectors)
	col := make([]float64, n)
	for i, v := range vectors {
		col[i] = v[column]
	}
	r := e.rng(column)
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		col[i], col[j] = col[j], col[i]
	}

	row := make([]float64, len(vectors[0]))
	scores := make([]float64, n)
	for i, v := range vectors {
		copy(row, v)
		row[column] = col[i]
		p, err := score(row)
		if err != nil {
			return 0, err
		}
		scores[i] = p
	}
	return stats.Mean(scores)
}

// Rank keeps positive importances, sorted descending, and names them.
// Ties keep schema order.
func Rank(importance []float64, columns []string, name func(id string) string) []models.FeatureContribution {
	out := []models.FeatureContribution{}
	for i, v := range importance {
		if v <= 0 || i >= len(columns) {
			continue
		}
		display := columns[i]
		if name != nil {
			display = name(columns[i])
		}
		out = append(out, models.FeatureContribution{
			FeatureID:   columns[i],
			DisplayName: display,
			Importance:  v,
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	return out
}
