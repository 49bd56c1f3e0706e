package metrics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository reads purchase aggregates from the order store. Orders are
// written by the commerce system; this side only correlates them to streams
// through the live_session_id key stamped at checkout.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates an order stats reader.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// StatsForStream returns the order count and revenue attributed to a stream.
func (r *OrderRepository) StatsForStream(ctx context.Context, streamID uuid.UUID) (int, float64, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM orders WHERE live_session_id = $1`
	var purchases int
	var revenue float64
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&purchases, &revenue)
	return purchases, revenue, err
}
