package personality

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// DistributionSource provides the latest score vectors of the analyzed population.
type DistributionSource interface {
	// ScoreDistribution returns the latest vector of every analyzed user except excludeUserID.
	ScoreDistribution(ctx context.Context, excludeUserID string) ([]ScoreVector, error)
}

// Distribution is an immutable snapshot of the population, one sorted score list per type.
type Distribution struct {
	scores [numTypes][]float64
}

func NewDistribution(vectors []ScoreVector) Distribution {
	var d Distribution
	for _, t := range Types {
		scores := make([]float64, 0, len(vectors))
		for _, v := range vectors {
			scores = append(scores, v[t])
		}
		sort.Float64s(scores)
		d.scores[t] = scores
	}
	return d
}

// Len is the population size.
func (d Distribution) Len() int { return len(d.scores[Leader]) }

// Percentile ranks score against the population of type t using the midpoint rule:
// 100 * (below + 0.5*equal) / total. An empty population ranks everyone at 50.
func (d Distribution) Percentile(t Type, score float64) float64 {
	return percentile(d.scores[t], score)
}

func percentile(sorted []float64, score float64) float64 {
	total := len(sorted)
	if total == 0 {
		return 50
	}
	below := sort.SearchFloat64s(sorted, score)
	upTo := sort.Search(total, func(i int) bool { return sorted[i] > score })
	equal := upTo - below

	p := 100 * (float64(below) + 0.5*float64(equal)) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Ranker computes percentiles against a snapshot of the distribution taken when ranking starts.
// Commits landing while a ranking is in flight are not seen by it.
type Ranker struct {
	src     DistributionSource
	metrics *Metrics
}

func NewRanker(src DistributionSource, metrics *Metrics) *Ranker {
	return &Ranker{src: src, metrics: metrics}
}

// Snapshot captures the distribution of every analyzed user but userID.
func (r *Ranker) Snapshot(ctx context.Context, userID string) (Distribution, error) {
	vectors, err := r.src.ScoreDistribution(ctx, userID)
	if err != nil {
		return Distribution{}, errors.Wrap(err, "loading score distribution")
	}
	return NewDistribution(vectors), nil
}

// Rank returns one PercentileUpdate per type for scores.
func (r *Ranker) Rank(ctx context.Context, userID string, scores ScoreVector, at time.Time) ([]PercentileUpdate, error) {
	start := time.Now()
	dist, err := r.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := make([]PercentileUpdate, 0, numTypes)
	for _, t := range Types {
		updates = append(updates, PercentileUpdate{
			Type:       t,
			Score:      scores[t],
			Percentile: dist.Percentile(t, scores[t]),
			At:         at,
		})
	}
	r.metrics.ObserveRanking(dist.Len(), time.Since(start))
	return updates, nil
}
