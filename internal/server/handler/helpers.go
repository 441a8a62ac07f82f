// Package handler implements the HTTP API: catalog management, observation
// ingestion, pricing triggers, experiments, and the audit log.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidListing),
		errors.Is(err, domain.ErrOutOfOrderListing),
		errors.Is(err, domain.ErrInvalidCostInput),
		errors.Is(err, domain.ErrExperimentNotRunning):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseListOpts extracts pagination and time-range parameters from the
// query string. Defaults: limit=50 (max 500), offset=0. since/until accept
// RFC3339 timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// pathParam extracts a named path parameter using the Go 1.22+ mux.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// decodeBody decodes a JSON request body into dst, rejecting unknown
// fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
