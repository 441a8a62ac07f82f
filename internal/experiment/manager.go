// Package experiment owns A/B price experiments: creation, activation,
// outcome accumulation, the statistical stopping rule, and reporting the
// winning price back to the pricing engine through the reference price
// cache.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// Config holds the experiment stopping-rule parameters. Read-only at
// runtime, injected at startup.
type Config struct {
	// MinSampleSize is the minimum impressions every variant must reach
	// before the experiment may conclude.
	MinSampleSize int64
	// Confidence is the one-sided confidence level for the two-proportion
	// z-test between the leading variant and the runner-up, e.g. 0.95.
	Confidence float64
}

// Validate reports configuration problems; they are fatal at startup.
func (c Config) Validate() error {
	if c.MinSampleSize < 1 {
		return fmt.Errorf("experiment: min sample size %d must be >= 1", c.MinSampleSize)
	}
	if c.Confidence <= 0.5 || c.Confidence >= 1 {
		return fmt.Errorf("experiment: confidence %.4f outside (0.5,1)", c.Confidence)
	}
	return nil
}

// Manager drives the experiment state machine:
//
//	PLANNED -> RUNNING -> CONCLUDED | ABORTED
//
// It is the only component that mutates Experiment records. Callers
// serialize per product through the lock manager; the manager itself holds
// no cross-product state.
type Manager struct {
	store  domain.ExperimentStore
	refs   domain.ReferencePriceCache
	cfg    Config
	zCrit  float64
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewManager validates the config and returns a Manager.
func NewManager(store domain.ExperimentStore, refs domain.ReferencePriceCache, cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		store:  store,
		refs:   refs,
		cfg:    cfg,
		zCrit:  zQuantile(cfg.Confidence),
		logger: logger.With(slog.String("component", "experiment_manager")),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Plan creates a PLANNED experiment from the given price variants. Traffic
// weights are fixed here for the experiment's lifetime; changing the
// allocation requires aborting and recreating the experiment so the
// statistical test stays valid.
func (m *Manager) Plan(ctx context.Context, productID string, variants []domain.PriceVariant) (domain.Experiment, error) {
	if len(variants) < 2 {
		return domain.Experiment{}, fmt.Errorf("experiment: need at least 2 variants, got %d", len(variants))
	}
	var weightSum float64
	for i := range variants {
		if variants[i].Price <= 0 {
			return domain.Experiment{}, fmt.Errorf("experiment: variant price %.4f must be > 0", variants[i].Price)
		}
		if variants[i].Weight <= 0 {
			return domain.Experiment{}, fmt.Errorf("experiment: variant weight %.4f must be > 0", variants[i].Weight)
		}
		if variants[i].ID == "" {
			variants[i].ID = m.newID()
		}
		weightSum += variants[i].Weight
	}
	if math.Abs(weightSum-1) > 1e-9 {
		return domain.Experiment{}, fmt.Errorf("experiment: variant weights sum to %.6f, want 1.0", weightSum)
	}

	now := m.now()
	exp := domain.Experiment{
		ID:        m.newID(),
		ProductID: productID,
		Variants:  variants,
		Status:    domain.ExperimentPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, exp); err != nil {
		return domain.Experiment{}, fmt.Errorf("experiment: create: %w", err)
	}

	m.logger.Info("experiment planned",
		slog.String("experiment_id", exp.ID),
		slog.String("product_id", productID),
		slog.Int("variants", len(variants)),
	)
	return exp, nil
}

// Activate transitions a PLANNED experiment to RUNNING. It is called once
// the marketplace has accepted the variant activations.
func (m *Manager) Activate(ctx context.Context, id string) (domain.Experiment, error) {
	exp, err := m.store.GetByID(ctx, id)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("experiment: activate %s: %w", id, err)
	}
	if exp.Status != domain.ExperimentPlanned {
		return domain.Experiment{}, fmt.Errorf("experiment: activate %s: status %s, want %s", id, exp.Status, domain.ExperimentPlanned)
	}

	now := m.now()
	exp.Status = domain.ExperimentRunning
	exp.StartedAt = &now
	exp.UpdatedAt = now
	if err := m.store.Update(ctx, exp); err != nil {
		return domain.Experiment{}, fmt.Errorf("experiment: activate %s: %w", id, err)
	}

	m.logger.Info("experiment running", slog.String("experiment_id", id))
	return exp, nil
}

// Abort terminates a PLANNED or RUNNING experiment without a winner, e.g.
// when the product is delisted or a traffic reallocation was requested.
func (m *Manager) Abort(ctx context.Context, id, reason string) (domain.Experiment, error) {
	exp, err := m.store.GetByID(ctx, id)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("experiment: abort %s: %w", id, err)
	}
	if exp.Status != domain.ExperimentPlanned && exp.Status != domain.ExperimentRunning {
		return domain.Experiment{}, fmt.Errorf("experiment: abort %s: status %s is terminal", id, exp.Status)
	}

	now := m.now()
	exp.Status = domain.ExperimentAborted
	exp.AbortReason = reason
	exp.EndedAt = &now
	exp.UpdatedAt = now
	if err := m.store.Update(ctx, exp); err != nil {
		return domain.Experiment{}, fmt.Errorf("experiment: abort %s: %w", id, err)
	}

	m.logger.Info("experiment aborted",
		slog.String("experiment_id", id),
		slog.String("reason", reason),
	)
	return exp, nil
}

// ApplyOutcome accumulates an outcome event into a RUNNING experiment and
// re-evaluates the stopping rule. Accumulation is idempotent: a duplicate
// event ID leaves the counters unchanged, so out-of-order and replayed
// delivery are safe. The returned bool reports whether the experiment
// concluded on this update.
func (m *Manager) ApplyOutcome(ctx context.Context, ev domain.OutcomeEvent) (domain.Experiment, bool, error) {
	exp, err := m.store.GetByID(ctx, ev.ExperimentID)
	if err != nil {
		return domain.Experiment{}, false, fmt.Errorf("experiment: outcome %s: %w", ev.ID, err)
	}
	if exp.Status != domain.ExperimentRunning {
		m.logger.Warn("outcome event for non-running experiment discarded",
			slog.String("experiment_id", ev.ExperimentID),
			slog.String("event_id", ev.ID),
			slog.String("status", string(exp.Status)),
		)
		return exp, false, fmt.Errorf("experiment %s is %s: %w", ev.ExperimentID, exp.Status, domain.ErrExperimentNotRunning)
	}

	idx := -1
	for i := range exp.Variants {
		if exp.Variants[i].ID == ev.VariantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return exp, false, fmt.Errorf("experiment: outcome %s: variant %s: %w", ev.ID, ev.VariantID, domain.ErrNotFound)
	}
	if ev.Impressions < 0 || ev.Conversions < 0 || ev.Conversions > ev.Impressions {
		return exp, false, fmt.Errorf("experiment: outcome %s: inconsistent counters", ev.ID)
	}

	applied, err := m.store.MarkEventApplied(ctx, exp.ID, ev.ID)
	if err != nil {
		return exp, false, fmt.Errorf("experiment: outcome %s: mark applied: %w", ev.ID, err)
	}
	if !applied {
		// Duplicate delivery: silently deduplicated.
		m.logger.Debug("duplicate outcome event ignored",
			slog.String("experiment_id", exp.ID),
			slog.String("event_id", ev.ID),
		)
		return exp, false, nil
	}

	exp.Variants[idx].Impressions += ev.Impressions
	exp.Variants[idx].Conversions += ev.Conversions
	exp.Variants[idx].Revenue += ev.Revenue
	exp.UpdatedAt = m.now()

	winnerID, done := m.evaluate(exp)
	if !done {
		if err := m.store.Update(ctx, exp); err != nil {
			return exp, false, fmt.Errorf("experiment: outcome %s: update: %w", ev.ID, err)
		}
		return exp, false, nil
	}

	now := m.now()
	exp.Status = domain.ExperimentConcluded
	exp.WinnerID = winnerID
	exp.EndedAt = &now
	exp.UpdatedAt = now
	if err := m.store.Update(ctx, exp); err != nil {
		return exp, false, fmt.Errorf("experiment: conclude %s: %w", exp.ID, err)
	}

	winner, _ := exp.Variant(winnerID)
	m.logger.Info("experiment concluded",
		slog.String("experiment_id", exp.ID),
		slog.String("product_id", exp.ProductID),
		slog.String("winner_id", winnerID),
		slog.Float64("winner_price", winner.Price),
	)

	// Report the winning price back as the reference price for future
	// proposals. The conclusion is already durable; a cache failure is
	// logged, not surfaced, and the next conclusion or manual refresh
	// supersedes it.
	if err := m.refs.Set(ctx, exp.ProductID, winner.Price, now); err != nil {
		m.logger.Warn("set reference price failed",
			slog.String("product_id", exp.ProductID),
			slog.String("error", err.Error()),
		)
	}

	return exp, true, nil
}

// evaluate applies the stopping rule: conclude once every variant reached
// the minimum sample size AND the leading variant's conversion-rate
// advantage over the runner-up clears the configured confidence under a
// pooled one-sided two-proportion z-test. Never concludes earlier, always
// concludes once both conditions hold.
func (m *Manager) evaluate(exp domain.Experiment) (string, bool) {
	for _, v := range exp.Variants {
		if v.Impressions < m.cfg.MinSampleSize {
			return "", false
		}
	}

	ranked := append([]domain.PriceVariant(nil), exp.Variants...)
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := ranked[i].ConversionRate(), ranked[j].ConversionRate()
		if ri != rj {
			return ri > rj
		}
		return ranked[i].ID < ranked[j].ID
	})

	leader, runnerUp := ranked[0], ranked[1]
	z := twoProportionZ(leader.Conversions, leader.Impressions, runnerUp.Conversions, runnerUp.Impressions)
	if z < m.zCrit {
		return "", false
	}
	return leader.ID, true
}
