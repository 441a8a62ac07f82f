package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/service"
)

// PricingRunner defines what the pricing handler needs from the service
// layer.
type PricingRunner interface {
	ProposeProduct(ctx context.Context, productID string) (domain.PriceProposal, error)
	ProposeAll(ctx context.Context) (service.CycleReport, error)
	LatestProposal(ctx context.Context, productID string) (domain.PriceProposal, error)
	ProposalHistory(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.PriceProposal, error)
}

// PricingHandler serves pricing trigger and proposal query endpoints.
type PricingHandler struct {
	pricing PricingRunner
	logger  *slog.Logger
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(pricing PricingRunner, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{pricing: pricing, logger: logger}
}

// ProposeProduct runs one pricing pass for a product and returns the
// proposal.
// POST /api/products/{id}/propose
func (h *PricingHandler) ProposeProduct(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	proposal, err := h.pricing.ProposeProduct(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// TriggerCycle runs a full pricing cycle over the active catalog and
// returns the cycle report.
// POST /api/pricing/cycle
func (h *PricingHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.pricing.ProposeAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pricing cycle failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "pricing cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LatestProposal returns the newest proposal for a product.
// GET /api/products/{id}/proposals/latest
func (h *PricingHandler) LatestProposal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	proposal, err := h.pricing.LatestProposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

// ListProposals returns the proposal history for a product, newest first.
// GET /api/products/{id}/proposals
func (h *PricingHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	proposals, err := h.pricing.ProposalHistory(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}
