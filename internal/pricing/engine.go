package pricing

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

// Policy holds the decision thresholds. It is read-only at runtime and
// validated at startup; the engine refuses to run with an invalid policy.
type Policy struct {
	// TargetMargin is the desired margin fraction; the price achieving it is
	// the anchor when no experiment-derived reference price exists.
	TargetMargin float64
	// MinMargin is the minimum margin fraction required to publish.
	MinMargin float64
	// PublishThreshold is the score at or above which a proposal publishes.
	PublishThreshold float64
	// ExperimentBand is the width of the score band below the threshold in
	// which a price experiment starts instead of a publish.
	ExperimentBand float64
	// UndercutBps is how far below the lowest competitor price the candidate
	// lands, in basis points.
	UndercutBps float64
	// ExperimentSpreadBps sets how far the bracketing variants sit from the
	// candidate price, in basis points.
	ExperimentSpreadBps float64
}

// Validate reports every problem with the policy.
func (p Policy) Validate() error {
	if p.TargetMargin <= 0 || p.TargetMargin >= 1 {
		return fmt.Errorf("%w: target margin %.4f outside (0,1)", domain.ErrInvalidCostInput, p.TargetMargin)
	}
	if p.MinMargin < 0 || p.MinMargin > p.TargetMargin {
		return fmt.Errorf("%w: min margin %.4f outside [0,target]", domain.ErrInvalidCostInput, p.MinMargin)
	}
	if p.PublishThreshold < 0 || p.PublishThreshold > 100 {
		return fmt.Errorf("%w: publish threshold %.2f outside [0,100]", domain.ErrInvalidCostInput, p.PublishThreshold)
	}
	if p.ExperimentBand < 0 || p.ExperimentBand > p.PublishThreshold {
		return fmt.Errorf("%w: experiment band %.2f outside [0,threshold]", domain.ErrInvalidCostInput, p.ExperimentBand)
	}
	if p.UndercutBps < 0 || p.UndercutBps >= 10000 {
		return fmt.Errorf("%w: undercut %.0f bps outside [0,10000)", domain.ErrInvalidCostInput, p.UndercutBps)
	}
	if p.ExperimentSpreadBps < 0 || p.ExperimentSpreadBps >= 10000 {
		return fmt.Errorf("%w: experiment spread %.0f bps outside [0,10000)", domain.ErrInvalidCostInput, p.ExperimentSpreadBps)
	}
	return nil
}

// Inputs bundles the already-fetched data one proposal needs. The engine
// performs no I/O; collaborators hand everything in.
type Inputs struct {
	Product  domain.Product
	Snapshot snapshot.Result
	// ReferencePrice is the experiment-derived price for the product, when
	// one exists. It replaces the target-margin anchor until superseded.
	ReferencePrice *float64
}

// Engine proposes a price for a product, scores it, and applies the decision
// policy. Proposals are deterministic for identical inputs except for the
// generated ID and timestamp.
type Engine struct {
	fees   FeeSchedule
	scorer *Scorer
	policy Policy
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine validates the fee schedule, weights, and policy, failing fast on
// any configuration error.
func NewEngine(fees FeeSchedule, weights Weights, maxPremium float64, policy Policy, logger *slog.Logger) (*Engine, error) {
	if err := fees.Validate(); err != nil {
		return nil, fmt.Errorf("pricing: fee schedule: %w", err)
	}
	scorer, err := NewScorer(weights, maxPremium)
	if err != nil {
		return nil, fmt.Errorf("pricing: scorer: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("pricing: policy: %w", err)
	}
	return &Engine{
		fees:   fees,
		scorer: scorer,
		policy: policy,
		logger: logger.With(slog.String("component", "pricing_engine")),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Propose computes the floor, chooses a candidate price as the lower of the
// anchor (target-margin or reference price) and the undercut of the lowest
// competitor, clamps it to the floor, scores it, and applies the decision
// policy. The proposed price is never below the floor: a candidate that
// falls below it is clamped and the clamp is logged, never surfaced as a
// failure.
func (e *Engine) Propose(in Inputs) (domain.PriceProposal, error) {
	fr, err := ComputeFloor(in.Product, e.fees)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing: floor for %s: %w", in.Product.ID, err)
	}

	anchor, err := e.anchorPrice(fr, in.ReferencePrice)
	if err != nil {
		return domain.PriceProposal{}, fmt.Errorf("pricing: anchor for %s: %w", in.Product.ID, err)
	}

	candidate := anchor
	prices := in.Snapshot.Prices()
	if len(prices) > 0 {
		undercut := prices[0] * (1 - e.policy.UndercutBps/10000)
		if undercut < candidate {
			candidate = undercut
		}
	}

	clamped := false
	if candidate < fr.Floor {
		e.logger.Warn("candidate below floor, clamped",
			slog.String("product_id", in.Product.ID),
			slog.Float64("candidate", candidate),
			slog.Float64("floor", fr.Floor),
			slog.String("reason", domain.ErrBelowFloor.Error()),
		)
		candidate = fr.Floor
		clamped = true
	}

	price := roundPrice(candidate, fr.Floor)
	score, breakdown := e.scorer.Score(price, fr.Floor, anchor, prices, in.Product.QualityScore)
	margin := fr.MarginAt(price)

	proposal := domain.PriceProposal{
		ID:              e.newID(),
		ProductID:       in.Product.ID,
		Price:           price,
		Floor:           fr.Floor,
		Margin:          margin,
		Score:           score,
		Breakdown:       breakdown,
		Clamped:         clamped,
		LowConfidence:   in.Snapshot.Excluded > 0,
		CompetitorCount: len(prices),
		ReferencePrice:  in.ReferencePrice,
		GeneratedAt:     e.now(),
	}

	switch {
	case score >= e.policy.PublishThreshold && margin >= e.policy.MinMargin:
		proposal.Decision = domain.DecisionPublish
	case score >= e.policy.PublishThreshold-e.policy.ExperimentBand:
		proposal.Decision = domain.DecisionExperiment
		proposal.Variants = e.bracketVariants(price, fr.Floor)
	default:
		proposal.Decision = domain.DecisionHold
	}

	return proposal, nil
}

// anchorPrice picks the price the candidate starts from: the experiment-
// derived reference price when present (never below floor), otherwise the
// target-margin price.
func (e *Engine) anchorPrice(fr FloorResult, ref *float64) (float64, error) {
	if ref != nil && *ref > 0 {
		if *ref < fr.Floor {
			return fr.Floor, nil
		}
		return *ref, nil
	}
	return fr.PriceForMargin(e.policy.TargetMargin)
}

// bracketVariants builds the experiment variants: the candidate plus one
// variant below and one above at the configured spread, the lower clamped to
// the floor. Variants with duplicate prices collapse. Weights are equal;
// traffic allocation is static for the experiment's lifetime.
func (e *Engine) bracketVariants(price, floor float64) []domain.PriceVariant {
	spread := e.policy.ExperimentSpreadBps / 10000
	low := roundPrice(price*(1-spread), floor)
	high := roundPrice(price*(1+spread), floor)

	prices := []float64{low, price, high}
	seen := make(map[float64]bool, len(prices))
	var uniq []float64
	for _, p := range prices {
		if !seen[p] {
			seen[p] = true
			uniq = append(uniq, p)
		}
	}

	weight := 1.0 / float64(len(uniq))
	variants := make([]domain.PriceVariant, len(uniq))
	for i, p := range uniq {
		variants[i] = domain.PriceVariant{
			ID:     e.newID(),
			Price:  p,
			Weight: weight,
		}
	}
	return variants
}

// roundPrice rounds to cents, rounding the floor itself up so the result
// never dips below it.
func roundPrice(price, floor float64) float64 {
	rounded := math.Round(price*100) / 100
	if rounded < floor {
		rounded = math.Ceil(floor*100-1e-9) / 100
	}
	return rounded
}
