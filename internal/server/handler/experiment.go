package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// OutcomeService defines what the experiment handler needs from the
// service layer.
type OutcomeService interface {
	ApplyOutcome(ctx context.Context, ev domain.OutcomeEvent) (domain.Experiment, error)
	Abort(ctx context.Context, experimentID, reason string) (domain.Experiment, error)
	GetExperiment(ctx context.Context, id string) (domain.Experiment, error)
	ListExperiments(ctx context.Context, status domain.ExperimentStatus, opts domain.ListOpts) ([]domain.Experiment, error)
}

// ExperimentHandler serves experiment query, abort, and outcome ingestion
// endpoints.
type ExperimentHandler struct {
	outcomes OutcomeService
	logger   *slog.Logger
}

// NewExperimentHandler creates an ExperimentHandler.
func NewExperimentHandler(outcomes OutcomeService, logger *slog.Logger) *ExperimentHandler {
	return &ExperimentHandler{outcomes: outcomes, logger: logger}
}

// ListExperiments returns experiments filtered by status.
// GET /api/experiments?status=running
func (h *ExperimentHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	status := domain.ExperimentStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ExperimentRunning
	}
	switch status {
	case domain.ExperimentPlanned, domain.ExperimentRunning,
		domain.ExperimentConcluded, domain.ExperimentAborted:
	default:
		writeError(w, http.StatusBadRequest, "unknown experiment status "+string(status))
		return
	}

	experiments, err := h.outcomes.ListExperiments(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": experiments})
}

// GetExperiment returns a single experiment.
// GET /api/experiments/{id}
func (h *ExperimentHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing experiment id")
		return
	}

	exp, err := h.outcomes.GetExperiment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

// AbortExperiment terminates an open experiment.
// POST /api/experiments/{id}/abort
func (h *ExperimentHandler) AbortExperiment(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing experiment id")
		return
	}

	var req abortRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	exp, err := h.outcomes.Abort(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type outcomeRequest struct {
	EventID      string    `json:"event_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	Impressions  int64     `json:"impressions"`
	Conversions  int64     `json:"conversions"`
	Revenue      float64   `json:"revenue"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// IngestOutcome applies one marketplace outcome event. Replayed event IDs
// are accepted and deduplicated.
// POST /api/outcomes
func (h *ExperimentHandler) IngestOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.EventID == "" || req.ExperimentID == "" || req.VariantID == "" {
		writeError(w, http.StatusUnprocessableEntity, "event_id, experiment_id, and variant_id are required")
		return
	}

	exp, err := h.outcomes.ApplyOutcome(r.Context(), domain.OutcomeEvent{
		ID:           req.EventID,
		ExperimentID: req.ExperimentID,
		VariantID:    req.VariantID,
		Impressions:  req.Impressions,
		Conversions:  req.Conversions,
		Revenue:      req.Revenue,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exp)
}
