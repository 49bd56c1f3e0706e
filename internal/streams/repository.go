package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

const streamColumns = `id, title, description, status, host_type, seller_id, affiliate_id,
	channel_id, stream_key, ingest_url, playback_url, category, tags,
	viewer_count, peak_viewers, likes_count, total_sales,
	scheduled_at, started_at, ended_at, created_at, updated_at`

// Repository handles live stream persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new stream with its bound channel credentials.
func (r *Repository) Create(ctx context.Context, s *models.Stream) error {
	const q = `INSERT INTO live_streams (title, description, host_type, seller_id, affiliate_id,
			channel_id, stream_key, ingest_url, playback_url, category, tags, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.Title, s.Description, s.HostType, s.SellerID, s.AffiliateID,
		s.ChannelID, s.StreamKey, s.IngestURL, s.PlaybackURL, s.Category, s.Tags, s.ScheduledAt).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a stream by id, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

// GetByIDForHost returns the stream only if the given host owns it. The
// compound lookup keeps stream existence from leaking across hosts.
func (r *Repository) GetByIDForHost(ctx context.Context, id uuid.UUID, host models.Host) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE id = $1 AND host_type = $2
		AND ((host_type = 'seller' AND seller_id = $3) OR (host_type = 'affiliate' AND affiliate_id = $3))`
	return r.scanOne(r.pool.QueryRow(ctx, q, id, host.Kind, host.ID))
}

// UpdateDetails rewrites the editable fields of a SCHEDULED stream.
func (r *Repository) UpdateDetails(ctx context.Context, s *models.Stream) error {
	const q = `UPDATE live_streams
		SET title = $2, description = $3, category = $4, tags = $5, scheduled_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, q, s.ID, s.Title, s.Description, s.Category, s.Tags, s.ScheduledAt).
		Scan(&s.UpdatedAt)
}

// Start moves a SCHEDULED stream to LIVE. Returns false when the stream was
// not in SCHEDULED, so double-starts and out-of-order transitions are
// rejected at the row.
func (r *Repository) Start(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE live_streams
		SET status = 'live', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// End moves a LIVE stream to ENDED. Channel credentials stay on the row; they
// are the reuse pool and get cleared only when another acquire claims them.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE live_streams
		SET status = 'ended', ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'live'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves a SCHEDULED stream to CANCELLED.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_streams
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Delete removes a stream and, via cascades, its products, sessions, chat and
// metrics rows.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM live_streams WHERE id = $1`, id)
	return err
}

// ClearChannel nulls the channel credential fields only if the stream still
// holds the given channel. The conditional update is the claim: of any number
// of concurrent acquirers exactly one sees RowsAffected 1.
func (r *Repository) ClearChannel(ctx context.Context, streamID uuid.UUID, channelID string) (bool, error) {
	const q = `UPDATE live_streams
		SET channel_id = NULL, stream_key = NULL, ingest_url = NULL, playback_url = NULL, updated_at = NOW()
		WHERE id = $1 AND channel_id = $2`
	tag, err := r.pool.Exec(ctx, q, streamID, channelID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LatestReleasableByHost returns the host's most recent finished stream still
// holding channel credentials.
func (r *Repository) LatestReleasableByHost(ctx context.Context, host models.Host) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE host_type = $1
		AND ((host_type = 'seller' AND seller_id = $2) OR (host_type = 'affiliate' AND affiliate_id = $2))
		AND status IN ('ended', 'cancelled') AND channel_id IS NOT NULL
		ORDER BY updated_at DESC LIMIT 1`
	return r.scanOne(r.pool.QueryRow(ctx, q, host.Kind, host.ID))
}

// StaleScheduledByHost returns a host stream still SCHEDULED whose channel was
// bound before the cutoff.
func (r *Repository) StaleScheduledByHost(ctx context.Context, host models.Host, before time.Time) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE host_type = $1
		AND ((host_type = 'seller' AND seller_id = $2) OR (host_type = 'affiliate' AND affiliate_id = $2))
		AND status = 'scheduled' AND channel_id IS NOT NULL AND updated_at < $3
		ORDER BY updated_at ASC LIMIT 1`
	return r.scanOne(r.pool.QueryRow(ctx, q, host.Kind, host.ID, before))
}

// LatestReleasableAny is the system-wide fallback used once the provider quota
// is exhausted.
func (r *Repository) LatestReleasableAny(ctx context.Context) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE status IN ('ended', 'cancelled') AND channel_id IS NOT NULL
		ORDER BY updated_at DESC LIMIT 1`
	return r.scanOne(r.pool.QueryRow(ctx, q))
}

// StaleScheduledAny is the system-wide stale fallback.
func (r *Repository) StaleScheduledAny(ctx context.Context, before time.Time) (*models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE status = 'scheduled' AND channel_id IS NOT NULL AND updated_at < $1
		ORDER BY updated_at ASC LIMIT 1`
	return r.scanOne(r.pool.QueryRow(ctx, q, before))
}

// ListLive returns all currently LIVE streams, most viewers first.
func (r *Repository) ListLive(ctx context.Context) ([]models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE status = 'live' ORDER BY viewer_count DESC`
	return r.scanMany(ctx, q)
}

// ListByHost returns the host's streams, newest first.
func (r *Repository) ListByHost(ctx context.Context, host models.Host) ([]models.Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM live_streams
		WHERE host_type = $1
		AND ((host_type = 'seller' AND seller_id = $2) OR (host_type = 'affiliate' AND affiliate_id = $2))
		ORDER BY created_at DESC`
	return r.scanMany(ctx, q, host.Kind, host.ID)
}

// StreamsByIDs returns the streams matching ids, in no particular order.
func (r *Repository) StreamsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Stream, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT ` + streamColumns + ` FROM live_streams WHERE id = ANY($1)`
	return r.scanMany(ctx, q, ids)
}

// SetViewerCount writes the current viewer count and ratchets peak_viewers.
func (r *Repository) SetViewerCount(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE live_streams
		SET viewer_count = $2, peak_viewers = GREATEST(peak_viewers, $2), updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, count)
	return err
}

// IncrementLikes bumps the stream's like counter.
func (r *Repository) IncrementLikes(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_streams SET likes_count = likes_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// AddSales adds a completed order's amount to the stream's running total.
func (r *Repository) AddSales(ctx context.Context, id uuid.UUID, amount float64) error {
	const q = `UPDATE live_streams SET total_sales = total_sales + $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, amount)
	return err
}

func (r *Repository) scanOne(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Status, &s.HostType, &s.SellerID, &s.AffiliateID,
		&s.ChannelID, &s.StreamKey, &s.IngestURL, &s.PlaybackURL, &s.Category, &s.Tags,
		&s.ViewerCount, &s.PeakViewers, &s.LikesCount, &s.TotalSales,
		&s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) scanMany(ctx context.Context, q string, args ...interface{}) ([]models.Stream, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Stream
	for rows.Next() {
		var s models.Stream
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.Status, &s.HostType, &s.SellerID, &s.AffiliateID,
			&s.ChannelID, &s.StreamKey, &s.IngestURL, &s.PlaybackURL, &s.Category, &s.Tags,
			&s.ViewerCount, &s.PeakViewers, &s.LikesCount, &s.TotalSales,
			&s.ScheduledAt, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
