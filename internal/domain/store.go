package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProductStore persists catalog products.
type ProductStore interface {
	Upsert(ctx context.Context, p Product) error
	UpsertBatch(ctx context.Context, products []Product) error
	GetByID(ctx context.Context, id string) (Product, error)
	GetBySKU(ctx context.Context, sku string) (Product, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Product, error)
	SetStatus(ctx context.Context, id string, status ProductStatus) error
	SetCost(ctx context.Context, id string, cost float64) error
	Count(ctx context.Context) (int64, error)
}

// ListingStore persists the append-only competitor observation history.
type ListingStore interface {
	Append(ctx context.Context, l CompetitorListing) error
	ListByProduct(ctx context.Context, productID string, opts ListOpts) ([]CompetitorListing, error)
	ListBefore(ctx context.Context, before time.Time) ([]CompetitorListing, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProposalStore persists the price proposal audit trail.
type ProposalStore interface {
	Create(ctx context.Context, p PriceProposal) error
	GetLatest(ctx context.Context, productID string) (PriceProposal, error)
	ListByProduct(ctx context.Context, productID string, opts ListOpts) ([]PriceProposal, error)
	ListBefore(ctx context.Context, before time.Time) ([]PriceProposal, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExperimentStore persists experiments, their variants, and the set of
// applied outcome event IDs.
type ExperimentStore interface {
	Create(ctx context.Context, e Experiment) error
	Update(ctx context.Context, e Experiment) error
	GetByID(ctx context.Context, id string) (Experiment, error)
	// GetOpenByProduct returns the planned or running experiment for a
	// product, or ErrNotFound.
	GetOpenByProduct(ctx context.Context, productID string) (Experiment, error)
	ListByStatus(ctx context.Context, status ExperimentStatus, opts ListOpts) ([]Experiment, error)
	// MarkEventApplied records an outcome event ID and reports whether it was
	// newly applied. A false result means the ID was seen before and the
	// event must not be accumulated again.
	MarkEventApplied(ctx context.Context, experimentID, eventID string) (bool, error)
	ListConcludedBefore(ctx context.Context, before time.Time) ([]Experiment, error)
}

// AuditEntry is a single structured audit record. Fatal and warning events
// are surfaced to the control surface through these records.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
