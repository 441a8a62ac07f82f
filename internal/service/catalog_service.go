// Package service composes the domain packages into the operations the
// server, scheduler, and CLI modes invoke: catalog upkeep, pricing cycles,
// outcome ingestion, and sheet round-trips.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oscarmtz/pricebot/internal/domain"
	"github.com/oscarmtz/pricebot/internal/experiment"
	"github.com/oscarmtz/pricebot/internal/sheets"
	"github.com/oscarmtz/pricebot/internal/snapshot"
)

// CatalogService maintains the product catalog and the competitor
// observation feed. It is the only writer to the snapshot store.
type CatalogService struct {
	products    domain.ProductStore
	listings    domain.ListingStore
	snapshots   *snapshot.Store
	experiments domain.ExperimentStore
	manager     *experiment.Manager
	refs        domain.ReferencePriceCache
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(
	products domain.ProductStore,
	listings domain.ListingStore,
	snapshots *snapshot.Store,
	experiments domain.ExperimentStore,
	manager *experiment.Manager,
	refs domain.ReferencePriceCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		products:    products,
		listings:    listings,
		snapshots:   snapshots,
		experiments: experiments,
		manager:     manager,
		refs:        refs,
		audit:       audit,
		logger:      logger.With(slog.String("component", "catalog_service")),
	}
}

// UpsertProduct inserts or updates a single catalog product.
func (s *CatalogService) UpsertProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = domain.ProductStatusActive
	}
	if err := s.products.Upsert(ctx, p); err != nil {
		return domain.Product{}, fmt.Errorf("catalog_service: upsert product %s: %w", p.ID, err)
	}

	s.logger.InfoContext(ctx, "product upserted",
		slog.String("product_id", p.ID),
		slog.String("sku", p.SKU),
	)
	return p, nil
}

// UpsertProducts inserts or updates a batch of products from the catalog
// feed in one round-trip.
func (s *CatalogService) UpsertProducts(ctx context.Context, products []domain.Product) error {
	for i := range products {
		if products[i].ID == "" {
			products[i].ID = uuid.New().String()
		}
		if products[i].Status == "" {
			products[i].Status = domain.ProductStatusActive
		}
	}
	if err := s.products.UpsertBatch(ctx, products); err != nil {
		return fmt.Errorf("catalog_service: upsert batch: %w", err)
	}

	s.logger.InfoContext(ctx, "product batch upserted", slog.Int("count", len(products)))
	return nil
}

// GetProduct returns a product by ID.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("catalog_service: get product %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns active products with pagination.
func (s *CatalogService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	products, err := s.products.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("catalog_service: list active: %w", err)
	}
	return products, nil
}

// RecordObservation ingests one competitor observation: it updates the
// in-memory ranking snapshot and appends to the durable observation history.
// Validation happens in the snapshot store; invalid and out-of-order
// observations are rejected before anything is persisted.
func (s *CatalogService) RecordObservation(ctx context.Context, l domain.CompetitorListing) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.ObservedAt.IsZero() {
		l.ObservedAt = time.Now().UTC()
	}

	if err := s.snapshots.Record(l); err != nil {
		return fmt.Errorf("catalog_service: record observation: %w", err)
	}
	if err := s.listings.Append(ctx, l); err != nil {
		// The snapshot already accepted the observation; ranking stays
		// correct, only the audit history lost this row.
		s.logger.WarnContext(ctx, "persist observation failed",
			slog.String("product_id", l.ProductID),
			slog.String("competitor_id", l.CompetitorID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("catalog_service: persist observation: %w", err)
	}

	s.logger.DebugContext(ctx, "observation recorded",
		slog.String("product_id", l.ProductID),
		slog.String("competitor_id", l.CompetitorID),
		slog.Float64("price", l.Price),
	)
	return nil
}

// Snapshot returns the current ranking view for a product.
func (s *CatalogService) Snapshot(productID string) snapshot.Result {
	return s.snapshots.Latest(productID)
}

// ObservationHistory returns the persisted observation history for a
// product, newest first.
func (s *CatalogService) ObservationHistory(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.CompetitorListing, error) {
	listings, err := s.listings.ListByProduct(ctx, productID, opts)
	if err != nil {
		return nil, fmt.Errorf("catalog_service: observation history %s: %w", productID, err)
	}
	return listings, nil
}

// WarmSnapshots rebuilds the in-memory ranking state from the persisted
// observation history. Called once at startup; the snapshot store does not
// survive restarts on its own.
func (s *CatalogService) WarmSnapshots(ctx context.Context, perProduct int) error {
	if perProduct < 1 {
		perProduct = 50
	}
	products, err := s.products.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("catalog_service: warm snapshots: %w", err)
	}

	var loaded int
	for _, p := range products {
		listings, err := s.listings.ListByProduct(ctx, p.ID, domain.ListOpts{Limit: perProduct})
		if err != nil {
			return fmt.Errorf("catalog_service: warm snapshots for %s: %w", p.ID, err)
		}
		// Stored newest first; replay oldest first to keep the
		// non-decreasing timestamp invariant.
		for i := len(listings) - 1; i >= 0; i-- {
			if err := s.snapshots.Record(listings[i]); err != nil {
				s.logger.DebugContext(ctx, "skipping stored observation",
					slog.String("product_id", p.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			loaded++
		}
	}

	s.logger.InfoContext(ctx, "snapshots warmed",
		slog.Int("products", len(products)),
		slog.Int("observations", loaded),
	)
	return nil
}

// Delist removes a product from pricing: its status flips to delisted, the
// snapshot state is dropped, any open experiment is aborted, and the cached
// reference price is invalidated.
func (s *CatalogService) Delist(ctx context.Context, productID, reason string) error {
	if err := s.products.SetStatus(ctx, productID, domain.ProductStatusDelisted); err != nil {
		return fmt.Errorf("catalog_service: delist %s: %w", productID, err)
	}

	s.snapshots.Forget(productID)

	if exp, err := s.experiments.GetOpenByProduct(ctx, productID); err == nil {
		if _, err := s.manager.Abort(ctx, exp.ID, "product delisted: "+reason); err != nil {
			s.logger.WarnContext(ctx, "abort open experiment failed",
				slog.String("product_id", productID),
				slog.String("experiment_id", exp.ID),
				slog.String("error", err.Error()),
			)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "lookup open experiment failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.refs.Invalidate(ctx, productID); err != nil {
		s.logger.WarnContext(ctx, "invalidate reference price failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "catalog.delisted", map[string]any{
		"product_id": productID,
		"reason":     reason,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit delist failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "product delisted",
		slog.String("product_id", productID),
		slog.String("reason", reason),
	)
	return nil
}

// ApplyCostOverrides applies bulk cost updates from an import sheet. Rows
// are applied independently; a failing row is reported and skipped so one
// bad SKU does not block the rest of the sheet. The reference price for an
// updated product is invalidated because the old winner was established
// under the old cost basis.
func (s *CatalogService) ApplyCostOverrides(ctx context.Context, overrides []sheets.CostOverride) (applied int, errs []error) {
	for _, o := range overrides {
		p, err := s.products.GetBySKU(ctx, o.SKU)
		if err != nil {
			errs = append(errs, fmt.Errorf("catalog_service: override sku %s: %w", o.SKU, err))
			continue
		}
		if err := s.products.SetCost(ctx, p.ID, o.Cost); err != nil {
			errs = append(errs, fmt.Errorf("catalog_service: override sku %s: %w", o.SKU, err))
			continue
		}
		if err := s.refs.Invalidate(ctx, p.ID); err != nil {
			s.logger.WarnContext(ctx, "invalidate reference price failed",
				slog.String("product_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
		applied++
	}

	if err := s.audit.Log(ctx, "catalog.cost_overrides", map[string]any{
		"applied": applied,
		"failed":  len(errs),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit cost overrides failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "cost overrides applied",
		slog.Int("applied", applied),
		slog.Int("failed", len(errs)),
	)
	return applied, errs
}
