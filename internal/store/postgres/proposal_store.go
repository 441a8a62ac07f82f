package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL. Experiment
// variants attached to a proposal are stored as a JSONB document.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given connection pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

var _ domain.ProposalStore = (*ProposalStore)(nil)

// variantDoc is the JSONB shape of one price variant on a proposal row.
type variantDoc struct {
	ID          string  `json:"id"`
	Price       float64 `json:"price"`
	Weight      float64 `json:"weight"`
	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

func encodeVariants(variants []domain.PriceVariant) ([]byte, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	docs := make([]variantDoc, len(variants))
	for i, v := range variants {
		docs[i] = variantDoc(v)
	}
	return json.Marshal(docs)
}

func decodeVariants(raw []byte) ([]domain.PriceVariant, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var docs []variantDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	variants := make([]domain.PriceVariant, len(docs))
	for i, d := range docs {
		variants[i] = domain.PriceVariant(d)
	}
	return variants, nil
}

const proposalCols = `id, product_id, price, floor_price, margin,
	score, margin_score, comp_score, quality_score, decision,
	variants, clamped, low_confidence, competitor_count, reference_price,
	generated_at`

// Create stores one immutable proposal.
func (s *ProposalStore) Create(ctx context.Context, p domain.PriceProposal) error {
	variants, err := encodeVariants(p.Variants)
	if err != nil {
		return fmt.Errorf("postgres: encode proposal %s variants: %w", p.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO price_proposals (
			id, product_id, price, floor_price, margin,
			score, margin_score, comp_score, quality_score, decision,
			variants, clamped, low_confidence, competitor_count, reference_price,
			generated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16
		)`,
		p.ID, p.ProductID, p.Price, p.Floor, p.Margin,
		p.Score, p.Breakdown.Margin, p.Breakdown.Competitiveness, p.Breakdown.Quality, string(p.Decision),
		variants, p.Clamped, p.LowConfidence, p.CompetitorCount, p.ReferencePrice,
		p.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

func scanProposal(row pgx.Row) (domain.PriceProposal, error) {
	var p domain.PriceProposal
	var decision string
	var variants []byte
	err := row.Scan(
		&p.ID, &p.ProductID, &p.Price, &p.Floor, &p.Margin,
		&p.Score, &p.Breakdown.Margin, &p.Breakdown.Competitiveness, &p.Breakdown.Quality, &decision,
		&variants, &p.Clamped, &p.LowConfidence, &p.CompetitorCount, &p.ReferencePrice,
		&p.GeneratedAt,
	)
	if err != nil {
		return domain.PriceProposal{}, err
	}
	p.Decision = domain.Decision(decision)
	if p.Variants, err = decodeVariants(variants); err != nil {
		return domain.PriceProposal{}, fmt.Errorf("decode variants: %w", err)
	}
	return p, nil
}

// GetLatest returns the most recent proposal for a product.
func (s *ProposalStore) GetLatest(ctx context.Context, productID string) (domain.PriceProposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM price_proposals
		 WHERE product_id = $1 ORDER BY generated_at DESC LIMIT 1`, productID)
	p, err := scanProposal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PriceProposal{}, domain.ErrNotFound
		}
		return domain.PriceProposal{}, fmt.Errorf("postgres: latest proposal for %s: %w", productID, err)
	}
	return p, nil
}

// ListByProduct returns a product's proposals, newest first.
func (s *ProposalStore) ListByProduct(ctx context.Context, productID string, opts domain.ListOpts) ([]domain.PriceProposal, error) {
	query := `SELECT ` + proposalCols + ` FROM price_proposals WHERE product_id = $1`
	args := []any{productID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND generated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND generated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY generated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryProposals(ctx, query, args...)
}

// ListBefore returns all proposals older than the cutoff, for archival.
func (s *ProposalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PriceProposal, error) {
	return s.queryProposals(ctx,
		`SELECT `+proposalCols+` FROM price_proposals WHERE generated_at < $1 ORDER BY generated_at`,
		before)
}

// DeleteBefore removes proposals older than the cutoff and reports how many
// rows were deleted. Callers archive first.
func (s *ProposalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_proposals WHERE generated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete proposals before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *ProposalStore) queryProposals(ctx context.Context, query string, args ...any) ([]domain.PriceProposal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []domain.PriceProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: proposals rows: %w", err)
	}
	return proposals, nil
}
