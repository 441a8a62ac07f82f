package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

// CatalogService defines what the product handler needs from the service
// layer. Declared locally so the handler package does not depend on the
// concrete implementation.
type CatalogService interface {
	UpsertProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error)
	Delist(ctx context.Context, productID, reason string) error
	RecordObservation(ctx context.Context, l domain.CompetitorListing) error
	Snapshot(productID string) snapshot.Result
	ObservationHistory(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.CompetitorListing, error)
}

// ProductHandler serves catalog and observation endpoints.
type ProductHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewProductHandler creates a ProductHandler.
func NewProductHandler(catalog CatalogService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{catalog: catalog, logger: logger}
}

type listProductsResponse struct {
	Products []domain.Product `json:"products"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListProducts returns active products with pagination.
// GET /api/products?limit=50&offset=0
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	products, err := h.catalog.ListActive(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list products failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	writeJSON(w, http.StatusOK, listProductsResponse{
		Products: products,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetProduct returns a single product.
// GET /api/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

type upsertProductRequest struct {
	ID           string  `json:"id"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Cost         float64 `json:"cost"`
	WeightClass  string  `json:"weight_class"`
	TaxCategory  string  `json:"tax_category"`
	QualityScore float64 `json:"quality_score"`
	Stock        int     `json:"stock"`
}

// UpsertProduct creates or updates a product from the catalog feed.
// POST /api/products
func (h *ProductHandler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SKU == "" || req.Cost <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "sku required and cost must be > 0")
		return
	}

	product, err := h.catalog.UpsertProduct(r.Context(), domain.Product{
		ID:           req.ID,
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		Cost:         req.Cost,
		WeightClass:  req.WeightClass,
		TaxCategory:  req.TaxCategory,
		QualityScore: req.QualityScore,
		Stock:        req.Stock,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// DelistProduct removes a product from pricing.
// DELETE /api/products/{id}?reason=discontinued
func (h *ProductHandler) DelistProduct(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	reason := r.URL.Query().Get("reason")
	if err := h.catalog.Delist(r.Context(), id, reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delisted", "product_id": id})
}

type observationRequest struct {
	CompetitorID string    `json:"competitor_id"`
	Price        float64   `json:"price"`
	Rating       float64   `json:"rating"`
	SalesRank    int       `json:"sales_rank"`
	FreeShipping bool      `json:"free_shipping"`
	ObservedAt   time.Time `json:"observed_at"`
}

// RecordObservation ingests one competitor observation.
// POST /api/products/{id}/observations
func (h *ProductHandler) RecordObservation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req observationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := h.catalog.RecordObservation(r.Context(), domain.CompetitorListing{
		ProductID:    id,
		CompetitorID: req.CompetitorID,
		Price:        req.Price,
		Rating:       req.Rating,
		SalesRank:    req.SalesRank,
		FreeShipping: req.FreeShipping,
		ObservedAt:   req.ObservedAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type snapshotResponse struct {
	Listings          []domain.CompetitorListing `json:"listings"`
	Excluded          int                        `json:"excluded"`
	OldestExcludedAge string                     `json:"oldest_excluded_age,omitempty"`
}

// GetSnapshot returns the current ranking view for a product.
// GET /api/products/{id}/snapshot
func (h *ProductHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	snap := h.catalog.Snapshot(id)
	resp := snapshotResponse{
		Listings: snap.Listings,
		Excluded: snap.Excluded,
	}
	if snap.Excluded > 0 {
		resp.OldestExcludedAge = snap.OldestExcludedAge.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListObservations returns the persisted observation history for a product.
// GET /api/products/{id}/observations
func (h *ProductHandler) ListObservations(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	listings, err := h.catalog.ObservationHistory(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": listings})
}
