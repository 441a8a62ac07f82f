package domain

import "time"

// ProductStatus represents the lifecycle state of a catalog product.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusPaused   ProductStatus = "paused"
	ProductStatusDelisted ProductStatus = "delisted"
)

// Product is a catalog item the engine prices. It is owned by the external
// catalog feed; the engine only reads it, except for cost overrides applied
// through the bulk import path.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Category    string
	Cost        float64
	WeightClass string
	TaxCategory string
	// QualityScore is the pre-normalized [0,100] listing-quality signal
	// supplied by the catalog feed (photo count, description completeness).
	QualityScore float64
	Stock        int
	Status       ProductStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
