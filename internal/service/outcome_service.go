package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/experiment"
	"github.com/oscarmtz/pricebot/internal/notify"
)

// Bus channels carrying experiment signals.
const (
	ChannelExperiments = "pricing.experiments"
	StreamOutcomes     = "stream:pricing.outcomes"
)

// ExperimentEvent is the payload published when an experiment changes
// state.
type ExperimentEvent struct {
	ExperimentID string  `json:"experiment_id"`
	ProductID    string  `json:"product_id"`
	Status       string  `json:"status"`
	WinnerID     string  `json:"winner_id,omitempty"`
	WinnerPrice  float64 `json:"winner_price,omitempty"`
	OccurredAt   string  `json:"occurred_at"`
}

// OutcomeService ingests marketplace outcome events into experiments. An
// outcome for a product serializes against that product's pricing pass on
// the same lock, so counters and conclusions never interleave with a
// proposal in flight.
type OutcomeService struct {
	manager     *experiment.Manager
	experiments domain.ExperimentStore
	locks       domain.LockManager
	bus         domain.SignalBus
	notifier    *notify.Notifier
	audit       domain.AuditStore
	logger      *slog.Logger

	lockTTL time.Duration
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(
	manager *experiment.Manager,
	experiments domain.ExperimentStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *OutcomeService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &OutcomeService{
		manager:     manager,
		experiments: experiments,
		locks:       locks,
		bus:         bus,
		notifier:    notifier,
		audit:       audit,
		logger:      logger.With(slog.String("component", "outcome_service")),
		lockTTL:     lockTTL,
	}
}

// ApplyOutcome accumulates one outcome event under the owning product's
// lock. Duplicate events return the unchanged experiment without error; an
// event that triggers the stopping rule concludes the experiment and fans
// the conclusion out.
func (s *OutcomeService) ApplyOutcome(ctx context.Context, ev domain.OutcomeEvent) (domain.Experiment, error) {
	exp, err := s.experiments.GetByID(ctx, ev.ExperimentID)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: experiment %s: %w", ev.ExperimentID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "product:"+exp.ProductID, s.lockTTL)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: lock %s: %w", exp.ProductID, err)
	}
	defer unlock()

	exp, concluded, err := s.manager.ApplyOutcome(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrExperimentNotRunning) {
			// Late event for a finished experiment: expected under replayed
			// delivery, worth an audit row but not an alert.
			if auditErr := s.audit.Log(ctx, "experiment.late_event", map[string]any{
				"experiment_id": ev.ExperimentID,
				"event_id":      ev.ID,
				"status":        string(exp.Status),
			}); auditErr != nil {
				s.logger.WarnContext(ctx, "audit late event failed", slog.String("error", auditErr.Error()))
			}
		}
		return exp, fmt.Errorf("outcome_service: apply %s: %w", ev.ID, err)
	}

	if !concluded {
		return exp, nil
	}

	winner, _ := exp.Variant(exp.WinnerID)
	s.publishConclusion(ctx, exp, winner)

	msg := fmt.Sprintf("Experiment %s for product %s concluded: winner %s at %.2f (%.2f%% conversion)",
		exp.ID, exp.ProductID, winner.ID, winner.Price, winner.ConversionRate()*100)
	if err := s.notifier.Notify(ctx, notify.EventExperimentConcluded, "Experiment concluded", msg); err != nil {
		s.logger.WarnContext(ctx, "notify conclusion failed", slog.String("error", err.Error()))
	}

	if err := s.audit.Log(ctx, "experiment.concluded", map[string]any{
		"experiment_id": exp.ID,
		"product_id":    exp.ProductID,
		"winner_id":     winner.ID,
		"winner_price":  winner.Price,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit conclusion failed", slog.String("error", err.Error()))
	}

	return exp, nil
}

// Abort terminates an open experiment on operator request.
func (s *OutcomeService) Abort(ctx context.Context, experimentID, reason string) (domain.Experiment, error) {
	exp, err := s.experiments.GetByID(ctx, experimentID)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: experiment %s: %w", experimentID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "product:"+exp.ProductID, s.lockTTL)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: lock %s: %w", exp.ProductID, err)
	}
	defer unlock()

	exp, err = s.manager.Abort(ctx, experimentID, reason)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: abort %s: %w", experimentID, err)
	}

	s.publishConclusion(ctx, exp, domain.PriceVariant{})

	if err := s.audit.Log(ctx, "experiment.aborted", map[string]any{
		"experiment_id": experimentID,
		"product_id":    exp.ProductID,
		"reason":        reason,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit abort failed", slog.String("error", err.Error()))
	}
	return exp, nil
}

// GetExperiment returns one experiment by ID.
func (s *OutcomeService) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	exp, err := s.experiments.GetByID(ctx, id)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("outcome_service: experiment %s: %w", id, err)
	}
	return exp, nil
}

// ListExperiments returns experiments in a given status, newest first.
func (s *OutcomeService) ListExperiments(ctx context.Context, status domain.ExperimentStatus, opts domain.ListOpts) ([]domain.Experiment, error) {
	exps, err := s.experiments.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("outcome_service: list %s: %w", status, err)
	}
	return exps, nil
}

// publishConclusion emits the terminal state on the experiment channel and
// the durable outcome stream. Best-effort; the store row is authoritative.
func (s *OutcomeService) publishConclusion(ctx context.Context, exp domain.Experiment, winner domain.PriceVariant) {
	payload, err := json.Marshal(ExperimentEvent{
		ExperimentID: exp.ID,
		ProductID:    exp.ProductID,
		Status:       string(exp.Status),
		WinnerID:     exp.WinnerID,
		WinnerPrice:  winner.Price,
		OccurredAt:   exp.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal experiment event failed", slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, ChannelExperiments, payload); err != nil {
		s.logger.WarnContext(ctx, "publish experiment event failed",
			slog.String("experiment_id", exp.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, StreamOutcomes, payload); err != nil {
		s.logger.WarnContext(ctx, "append experiment event to stream failed",
			slog.String("experiment_id", exp.ID),
			slog.String("error", err.Error()),
		)
	}
}
