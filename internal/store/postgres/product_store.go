package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oscarmtz/pricebot/internal/domain"
)

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore creates a new ProductStore backed by the given connection pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

var _ domain.ProductStore = (*ProductStore)(nil)

const productUpsert = `
	INSERT INTO products (
		id, sku, name, category, cost,
		weight_class, tax_category, quality_score, stock, status,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		sku           = EXCLUDED.sku,
		name          = EXCLUDED.name,
		category      = EXCLUDED.category,
		cost          = EXCLUDED.cost,
		weight_class  = EXCLUDED.weight_class,
		tax_category  = EXCLUDED.tax_category,
		quality_score = EXCLUDED.quality_score,
		stock         = EXCLUDED.stock,
		status        = EXCLUDED.status,
		updated_at    = NOW()`

// Upsert inserts or updates a single product.
func (s *ProductStore) Upsert(ctx context.Context, p domain.Product) error {
	_, err := s.pool.Exec(ctx, productUpsert,
		p.ID, p.SKU, p.Name, p.Category, p.Cost,
		p.WeightClass, p.TaxCategory, p.QualityScore, p.Stock, string(p.Status),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert product %s: %w", p.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple products in a single batch operation.
func (s *ProductStore) UpsertBatch(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(productUpsert,
			p.ID, p.SKU, p.Name, p.Category, p.Cost,
			p.WeightClass, p.TaxCategory, p.QualityScore, p.Stock, string(p.Status),
			p.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range products {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert product batch item %d: %w", i, err)
		}
	}
	return nil
}

const productCols = `id, sku, name, category, cost,
	weight_class, tax_category, quality_score, stock, status,
	created_at, updated_at`

// scanProduct scans a single product row into a domain.Product.
func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var status string
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Category, &p.Cost,
		&p.WeightClass, &p.TaxCategory, &p.QualityScore, &p.Stock, &status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	return p, nil
}

// GetByID retrieves a product by its primary key.
func (s *ProductStore) GetByID(ctx context.Context, id string) (domain.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("postgres: get product %s: %w", id, err)
	}
	return p, nil
}

// GetBySKU retrieves a product by its SKU.
func (s *ProductStore) GetBySKU(ctx context.Context, sku string) (domain.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE sku = $1`, sku)
	p, err := scanProduct(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("postgres: get product by sku %s: %w", sku, err)
	}
	return p, nil
}

// ListActive returns active products with pagination and optional time filtering.
func (s *ProductStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	query := `SELECT ` + productCols + ` FROM products WHERE status = 'active'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY sku"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active products rows: %w", err)
	}
	return products, nil
}

// SetStatus updates a product's lifecycle status.
func (s *ProductStore) SetStatus(ctx context.Context, id string, status domain.ProductStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set product %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetCost applies a cost override to a product.
func (s *ProductStore) SetCost(ctx context.Context, id string, cost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET cost = $2, updated_at = NOW() WHERE id = $1`,
		id, cost)
	if err != nil {
		return fmt.Errorf("postgres: set product %s cost: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of products in the catalog.
func (s *ProductStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count products: %w", err)
	}
	return count, nil
}
