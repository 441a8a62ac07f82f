package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Observations
// are append-only; retention is handled by DeleteBefore after archival.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

var _ domain.ListingStore = (*ListingStore)(nil)

const listingCols = `id, product_id, competitor_id, price, rating,
	sales_rank, free_shipping, observed_at`

// Append stores one competitor observation.
func (s *ListingStore) Append(ctx context.Context, l domain.CompetitorListing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO competitor_listings (
			id, product_id, competitor_id, price, rating,
			sales_rank, free_shipping, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.ProductID, l.CompetitorID, l.Price, l.Rating,
		l.SalesRank, l.FreeShipping, l.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append listing %s: %w", l.ID, err)
	}
	return nil
}

// ListByProduct returns a product's observations, newest first.
func (s *ListingStore) ListByProduct(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.CompetitorListing, error) {
	query := `SELECT ` + listingCols + ` FROM competitor_listings WHERE product_id = $1`
	args := []any{productID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY observed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryListings(ctx, query, args...)
}

// ListBefore returns all observations older than the cutoff, for archival.
func (s *ListingStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CompetitorListing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingCols+` FROM competitor_listings WHERE observed_at < $1 ORDER BY observed_at`,
		before)
}

// DeleteBefore removes observations older than the cutoff and reports how
// many rows were deleted. Callers archive first.
func (s *ListingStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM competitor_listings WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete listings before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *ListingStore) queryListings(ctx context.Context, query string, args ...any) ([]domain.CompetitorListing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.CompetitorListing
	for rows.Next() {
		var l domain.CompetitorListing
		if err := rows.Scan(
			&l.ID, &l.ProductID, &l.CompetitorID, &l.Price, &l.Rating,
			&l.SalesRank, &l.FreeShipping, &l.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listings rows: %w", err)
	}
	return listings, nil
}
