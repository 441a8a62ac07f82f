package handler

import (
	"log/slog"
	"net/http"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListEntries returns audit entries, newest first.
// GET /api/audit?limit=50&since=2026-08-01T00:00:00Z
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
