package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ExperimentStore implements domain.ExperimentStore using PostgreSQL.
// Variants live as a JSONB document on the experiment row; applied outcome
// event IDs live in experiment_events so duplicate deliveries are rejected
// at the database level.
type ExperimentStore struct {
	pool *pgxpool.Pool
}

// NewExperimentStore creates a new ExperimentStore backed by the given connection pool.
func NewExperimentStore(pool *pgxpool.Pool) *ExperimentStore {
	return &ExperimentStore{pool: pool}
}

var _ domain.ExperimentStore = (*ExperimentStore)(nil)

const experimentCols = `id, product_id, variants, status, winner_id,
	abort_reason, started_at, ended_at, created_at, updated_at`

// Create stores a new experiment. A duplicate ID is ErrAlreadyExists.
func (s *ExperimentStore) Create(ctx context.Context, e domain.Experiment) error {
	variants, err := encodeVariants(e.Variants)
	if err != nil {
		return fmt.Errorf("postgres: encode experiment %s variants: %w", e.ID, err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO experiments (
			id, product_id, variants, status, winner_id,
			abort_reason, started_at, ended_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ProductID, variants, string(e.Status), e.WinnerID,
		e.AbortReason, e.StartedAt, e.EndedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create experiment %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Update rewrites an experiment row, variants included.
func (s *ExperimentStore) Update(ctx context.Context, e domain.Experiment) error {
	variants, err := encodeVariants(e.Variants)
	if err != nil {
		return fmt.Errorf("postgres: encode experiment %s variants: %w", e.ID, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE experiments SET
			variants     = $2,
			status       = $3,
			winner_id    = $4,
			abort_reason = $5,
			started_at   = $6,
			ended_at     = $7,
			updated_at   = $8
		WHERE id = $1`,
		e.ID, variants, string(e.Status), e.WinnerID,
		e.AbortReason, e.StartedAt, e.EndedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update experiment %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanExperiment(row pgx.Row) (domain.Experiment, error) {
	var e domain.Experiment
	var status string
	var variants []byte
	err := row.Scan(
		&e.ID, &e.ProductID, &variants, &status, &e.WinnerID,
		&e.AbortReason, &e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Experiment{}, err
	}
	e.Status = domain.ExperimentStatus(status)
	if e.Variants, err = decodeVariants(variants); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode variants: %w", err)
	}
	return e, nil
}

// GetByID retrieves an experiment by its primary key.
func (s *ExperimentStore) GetByID(ctx context.Context, id string) (domain.Experiment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+experimentCols+` FROM experiments WHERE id = $1`, id)
	e, err := scanExperiment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Experiment{}, domain.ErrNotFound
		}
		return domain.Experiment{}, fmt.Errorf("postgres: get experiment %s: %w", id, err)
	}
	return e, nil
}

// GetOpenByProduct returns the planned or running experiment for a product,
// or ErrNotFound. At most one open experiment exists per product.
func (s *ExperimentStore) GetOpenByProduct(ctx context.Context, productID string) (domain.Experiment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+experimentCols+` FROM experiments
		 WHERE product_id = $1 AND status IN ('planned', 'running')
		 ORDER BY created_at DESC LIMIT 1`, productID)
	e, err := scanExperiment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Experiment{}, domain.ErrNotFound
		}
		return domain.Experiment{}, fmt.Errorf("postgres: open experiment for %s: %w", productID, err)
	}
	return e, nil
}

// ListByStatus returns experiments in the given lifecycle state, newest first.
func (s *ExperimentStore) ListByStatus(ctx context.Context, status domain.ExperimentStatus, opts domain.ListOpts) ([]domain.Experiment, error) {
	query := `SELECT ` + experimentCols + ` FROM experiments WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryExperiments(ctx, query, args...)
}

// MarkEventApplied records an outcome event ID and reports whether it was
// newly applied. The primary key on (experiment_id, event_id) makes replays
// a no-op insert.
func (s *ExperimentStore) MarkEventApplied(ctx context.Context, experimentID, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO experiment_events (experiment_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT (experiment_id, event_id) DO NOTHING`,
		experimentID, eventID)
	if err != nil {
		return false, fmt.Errorf("postgres: mark event %s applied: %w", eventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListConcludedBefore returns experiments that concluded before the cutoff,
// for archival.
func (s *ExperimentStore) ListConcludedBefore(ctx context.Context, before time.Time) ([]domain.Experiment, error) {
	return s.queryExperiments(ctx,
		`SELECT `+experimentCols+` FROM experiments
		 WHERE status = 'concluded' AND ended_at < $1 ORDER BY ended_at`,
		before)
}

func (s *ExperimentStore) queryExperiments(ctx context.Context, query string, args ...any) ([]domain.Experiment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query experiments: %w", err)
	}
	defer rows.Close()

	var experiments []domain.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan experiment: %w", err)
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: experiments rows: %w", err)
	}
	return experiments, nil
}
