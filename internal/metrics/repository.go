package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

// Repository handles the append-only metrics timeseries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a metrics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save appends one sample.
func (r *Repository) Save(ctx context.Context, s *models.MetricsSample) error {
	const q = `INSERT INTO live_stream_metrics
			(stream_id, viewer_count, messages_per_minute, reactions_count, purchases_count, revenue, conversion_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, recorded_at`
	return r.pool.QueryRow(ctx, q, s.StreamID, s.ViewerCount, s.MessagesPerMinute,
		s.ReactionsCount, s.PurchasesCount, s.Revenue, s.ConversionRate).
		Scan(&s.ID, &s.RecordedAt)
}

// History returns the stream's samples since the cutoff, oldest first.
func (r *Repository) History(ctx context.Context, streamID uuid.UUID, since time.Time) ([]models.MetricsSample, error) {
	const q = `SELECT id, stream_id, viewer_count, messages_per_minute, reactions_count,
			purchases_count, revenue, conversion_rate, recorded_at
		FROM live_stream_metrics
		WHERE stream_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`
	rows, err := r.pool.Query(ctx, q, streamID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.MetricsSample
	for rows.Next() {
		var s models.MetricsSample
		if err := rows.Scan(&s.ID, &s.StreamID, &s.ViewerCount, &s.MessagesPerMinute, &s.ReactionsCount,
			&s.PurchasesCount, &s.Revenue, &s.ConversionRate, &s.RecordedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Summary aggregates the stream's whole timeseries into one row.
func (r *Repository) Summary(ctx context.Context, streamID uuid.UUID) (*Summary, error) {
	const q = `SELECT COUNT(*),
			COALESCE(MAX(viewer_count), 0),
			COALESCE(AVG(viewer_count), 0),
			COALESCE(SUM(messages_per_minute), 0),
			COALESCE(SUM(reactions_count), 0),
			COALESCE(MAX(purchases_count), 0),
			COALESCE(MAX(revenue), 0),
			COALESCE(MAX(conversion_rate), 0)
		FROM live_stream_metrics WHERE stream_id = $1`
	s := &Summary{StreamID: streamID}
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&s.Samples, &s.PeakViewers, &s.AvgViewers,
		&s.TotalMessages, &s.TotalReactions, &s.Purchases, &s.Revenue, &s.PeakConversionRate)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteOlderThan prunes samples past the retention window. Returns the
// number of rows removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_stream_metrics WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Summary is the aggregate view of a stream's timeseries.
type Summary struct {
	StreamID           uuid.UUID `json:"stream_id"`
	Samples            int       `json:"samples"`
	PeakViewers        int       `json:"peak_viewers"`
	AvgViewers         float64   `json:"avg_viewers"`
	TotalMessages      int       `json:"total_messages"`
	TotalReactions     int       `json:"total_reactions"`
	Purchases          int       `json:"purchases"`
	Revenue            float64   `json:"revenue"`
	PeakConversionRate float64   `json:"peak_conversion_rate"`
}
