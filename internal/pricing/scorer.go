package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// weightEpsilon is the tolerance for the weights-sum-to-one check.
const weightEpsilon = 1e-9

// neutralCompetitiveness is the sub-score used when no competitor data
// exists, so an empty market neither blocks nor forces publication.
const neutralCompetitiveness = 50.0

// Weights are the relative contributions of the three sub-scores. They must
// sum to 1.0.
type Weights struct {
	Margin          float64
	Competitiveness float64
	Quality         float64
}

// Validate fails with ErrInvalidWeights when any weight is negative or the
// sum deviates from 1.0 beyond the epsilon.
func (w Weights) Validate() error {
	if w.Margin < 0 || w.Competitiveness < 0 || w.Quality < 0 {
		return fmt.Errorf("%w: negative weight", domain.ErrInvalidWeights)
	}
	sum := w.Margin + w.Competitiveness + w.Quality
	if math.Abs(sum-1) > weightEpsilon {
		return fmt.Errorf("%w: weights sum to %.6f, want 1.0", domain.ErrInvalidWeights, sum)
	}
	return nil
}

// Scorer combines margin, competitiveness, and listing-quality signals into
// a single [0,100] score.
type Scorer struct {
	weights Weights
	// maxPremium is the acceptable premium over the competitor median, as a
	// fraction. Competitiveness decays to 0 at median*(1+maxPremium).
	maxPremium float64
}

// NewScorer validates the weights and returns a Scorer. Construction fails
// fast so an engine never runs with an invalid policy.
func NewScorer(w Weights, maxPremium float64) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if maxPremium < 0 {
		return nil, fmt.Errorf("%w: max premium %.4f must be >= 0", domain.ErrInvalidWeights, maxPremium)
	}
	return &Scorer{weights: w, maxPremium: maxPremium}, nil
}

// Score computes the composite score for a proposed price against the floor,
// the target-margin price, the competitor price set, and the pre-normalized
// listing quality signal. All sub-scores and the total are in [0,100].
func (s *Scorer) Score(price, floor, target float64, competitors []float64, quality float64) (float64, domain.ScoreBreakdown) {
	b := domain.ScoreBreakdown{
		Margin:          marginSubScore(price, floor, target),
		Competitiveness: s.competitivenessSubScore(price, competitors),
		Quality:         clampScore(quality),
	}
	total := s.weights.Margin*b.Margin +
		s.weights.Competitiveness*b.Competitiveness +
		s.weights.Quality*b.Quality
	return clampScore(total), b
}

// marginSubScore ramps linearly from 0 at the floor to 100 at the
// target-margin price.
func marginSubScore(price, floor, target float64) float64 {
	if target <= floor {
		// Degenerate schedule: the target margin is already met at the
		// floor, so any viable price scores full marks.
		return 100
	}
	return clampScore(100 * (price - floor) / (target - floor))
}

// competitivenessSubScore is 100 when the price undercuts every competitor
// and decays linearly to 0 at the configured premium above the competitor
// median. An empty competitor set yields the neutral 50.
func (s *Scorer) competitivenessSubScore(price float64, competitors []float64) float64 {
	if len(competitors) == 0 {
		return neutralCompetitiveness
	}

	sorted := append([]float64(nil), competitors...)
	sort.Float64s(sorted)
	lowest := sorted[0]
	if price <= lowest {
		return 100
	}

	cap := median(sorted) * (1 + s.maxPremium)
	if cap <= lowest {
		return 0
	}
	return clampScore(100 * (cap - price) / (cap - lowest))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
