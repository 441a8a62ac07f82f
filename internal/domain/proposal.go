package domain

import "time"

// Decision is the outcome of one pricing cycle for a product.
type Decision string

const (
	DecisionPublish    Decision = "publish"
	DecisionHold       Decision = "hold"
	DecisionExperiment Decision = "experiment"
)

// ScoreBreakdown carries the three normalized sub-scores behind a composite
// score, each in [0,100].
type ScoreBreakdown struct {
	Margin          float64
	Competitiveness float64
	Quality         float64
}

// PriceProposal is one engine-computed price and decision for a product at a
// point in time. Proposals are immutable once created and superseded, never
// mutated, by later proposals.
type PriceProposal struct {
	ID        string
	ProductID string
	Price     float64
	Floor     float64
	// Margin is the profit margin at Price, as a fraction of Price.
	Margin    float64
	Score     float64
	Breakdown ScoreBreakdown
	Decision  Decision
	// Variants is populated only for experiment decisions: the candidate
	// price plus one or two alternatives bracketing it.
	Variants []PriceVariant
	// Clamped records that the candidate price fell below the floor and was
	// raised to it.
	Clamped bool
	// LowConfidence flags proposals computed against a competitor snapshot
	// that excluded stale observations.
	LowConfidence   bool
	CompetitorCount int
	// ReferencePrice is the experiment-derived price used in place of the
	// target-margin price, when one existed for the product.
	ReferencePrice *float64
	GeneratedAt    time.Time
}
