package domain

import "time"

// ExperimentStatus represents the lifecycle state of a price experiment.
type ExperimentStatus string

const (
	ExperimentPlanned   ExperimentStatus = "planned"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentConcluded ExperimentStatus = "concluded"
	ExperimentAborted   ExperimentStatus = "aborted"
)

// PriceVariant is one candidate price under test with its own accumulated
// outcome counters. Weight is the static traffic allocation fixed at
// creation; reallocation requires aborting and recreating the experiment so
// the statistical test stays valid.
type PriceVariant struct {
	ID          string
	Price       float64
	Weight      float64
	Impressions int64
	Conversions int64
	Revenue     float64
}

// ConversionRate returns conversions per impression, or 0 with no traffic.
func (v PriceVariant) ConversionRate() float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Impressions)
}

// Experiment is an A/B price test over an ordered list of variants. It is
// owned exclusively by the experiment manager; no other component mutates it.
type Experiment struct {
	ID        string
	ProductID string
	Variants  []PriceVariant
	Status    ExperimentStatus
	// WinnerID is set when the experiment concludes.
	WinnerID    string
	AbortReason string
	StartedAt   *time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant returns the variant with the given ID, or false when absent.
func (e Experiment) Variant(id string) (PriceVariant, bool) {
	for _, v := range e.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return PriceVariant{}, false
}

// OutcomeEvent is one append-only impressions/conversions delta from the
// marketplace outcome feed. Events carry a unique ID so duplicate delivery
// can be deduplicated and replays are safe.
type OutcomeEvent struct {
	ID           string
	ExperimentID string
	VariantID    string
	Impressions  int64
	Conversions  int64
	Revenue      float64
	OccurredAt   time.Time
}
