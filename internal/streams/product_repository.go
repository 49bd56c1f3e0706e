package streams

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

const productColumns = `id, stream_id, product_id, special_price, order_count, revenue,
	is_active, is_highlighted, position, highlighted_at, added_at`

// ProductRepository handles the shopping rail rows attached to a stream.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository creates a stream product repository.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Add puts a product on the stream's rail. Re-adding a previously removed
// product reactivates the existing row and keeps its accumulated order stats.
func (r *ProductRepository) Add(ctx context.Context, p *models.StreamProduct) error {
	const q = `INSERT INTO live_stream_products (stream_id, product_id, special_price, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, product_id) DO UPDATE
			SET is_active = TRUE, special_price = EXCLUDED.special_price, position = EXCLUDED.position
		RETURNING id, order_count, revenue, is_active, is_highlighted, highlighted_at, added_at`
	return r.pool.QueryRow(ctx, q, p.StreamID, p.ProductID, p.SpecialPrice, p.Position).
		Scan(&p.ID, &p.OrderCount, &p.Revenue, &p.IsActive, &p.IsHighlighted, &p.HighlightedAt, &p.AddedAt)
}

// Remove takes a product off the rail. The row stays for order attribution.
func (r *ProductRepository) Remove(ctx context.Context, streamID, productID uuid.UUID) (bool, error) {
	const q = `UPDATE live_stream_products
		SET is_active = FALSE, is_highlighted = FALSE
		WHERE stream_id = $1 AND product_id = $2 AND is_active`
	tag, err := r.pool.Exec(ctx, q, streamID, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Highlight makes the product the stream's single highlighted item. Both
// updates run in one transaction so there is never a moment with two
// highlights.
func (r *ProductRepository) Highlight(ctx context.Context, streamID, productID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	const clear = `UPDATE live_stream_products SET is_highlighted = FALSE
		WHERE stream_id = $1 AND is_highlighted`
	if _, err := tx.Exec(ctx, clear, streamID); err != nil {
		return false, err
	}

	const set = `UPDATE live_stream_products
		SET is_highlighted = TRUE, highlighted_at = NOW()
		WHERE stream_id = $1 AND product_id = $2 AND is_active`
	tag, err := tx.Exec(ctx, set, streamID, productID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

// Unhighlight clears the stream's highlight, if any.
func (r *ProductRepository) Unhighlight(ctx context.Context, streamID uuid.UUID) error {
	const q = `UPDATE live_stream_products SET is_highlighted = FALSE
		WHERE stream_id = $1 AND is_highlighted`
	_, err := r.pool.Exec(ctx, q, streamID)
	return err
}

// ListByStream returns the active rail, highlighted first, then by position.
func (r *ProductRepository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.StreamProduct, error) {
	const q = `SELECT ` + productColumns + ` FROM live_stream_products
		WHERE stream_id = $1 AND is_active
		ORDER BY is_highlighted DESC, position ASC NULLS LAST, added_at ASC`
	rows, err := r.pool.Query(ctx, q, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.StreamProduct
	for rows.Next() {
		var p models.StreamProduct
		if err := rows.Scan(&p.ID, &p.StreamID, &p.ProductID, &p.SpecialPrice, &p.OrderCount, &p.Revenue,
			&p.IsActive, &p.IsHighlighted, &p.Position, &p.HighlightedAt, &p.AddedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// RecordOrder attributes a completed order to a rail product.
func (r *ProductRepository) RecordOrder(ctx context.Context, streamID, productID uuid.UUID, amount float64) error {
	const q = `UPDATE live_stream_products
		SET order_count = order_count + 1, revenue = revenue + $3
		WHERE stream_id = $1 AND product_id = $2`
	_, err := r.pool.Exec(ctx, q, streamID, productID, amount)
	return err
}
