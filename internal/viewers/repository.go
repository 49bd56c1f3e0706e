// Package viewers persists viewer sessions, the historical record of who
// watched which stream. The in-memory room set in realtime is authoritative
// for the current count; these rows are authoritative for unique/historical
// counts and carry the moderation flags.
package viewers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

const sessionColumns = `id, stream_id, user_id, session_id, ip_address, user_agent,
	is_banned, timeout_until, banned_by, ban_reason, joined_at, left_at`

// Repository handles viewer session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open records an identity joining a stream. Idempotent: if the identity
// already has an open session on the stream, that session is returned and no
// new row is written. The partial unique index makes the insert race-safe
// under concurrent duplicate joins.
func (r *Repository) Open(ctx context.Context, streamID uuid.UUID, identity models.Identity, ip, userAgent string) (*models.ViewerSession, error) {
	const ins = `INSERT INTO viewer_sessions (stream_id, user_id, session_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id, COALESCE(user_id::TEXT, session_id)) WHERE left_at IS NULL DO NOTHING
		RETURNING ` + sessionColumns
	vs, err := r.scanOne(r.pool.QueryRow(ctx, ins, streamID, identity.UserID, identity.SessionID, ip, userAgent))
	if err != nil {
		return nil, err
	}
	if vs != nil {
		return vs, nil
	}
	// Insert hit the conflict: the open session already exists.
	return r.GetOpen(ctx, streamID, identity)
}

// GetOpen returns the identity's open session on the stream, or nil.
func (r *Repository) GetOpen(ctx context.Context, streamID uuid.UUID, identity models.Identity) (*models.ViewerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM viewer_sessions
		WHERE stream_id = $1 AND left_at IS NULL
		AND user_id IS NOT DISTINCT FROM $2 AND session_id IS NOT DISTINCT FROM $3`
	return r.scanOne(r.pool.QueryRow(ctx, q, streamID, identity.UserID, identity.SessionID))
}

// Close stamps left_at on the identity's open session. A no-op when no open
// session exists, so duplicate leave/disconnect cleanup is harmless.
func (r *Repository) Close(ctx context.Context, streamID uuid.UUID, identity models.Identity) error {
	const q = `UPDATE viewer_sessions SET left_at = NOW()
		WHERE stream_id = $1 AND left_at IS NULL
		AND user_id IS NOT DISTINCT FROM $2 AND session_id IS NOT DISTINCT FROM $3`
	_, err := r.pool.Exec(ctx, q, streamID, identity.UserID, identity.SessionID)
	return err
}

// BanAll marks every session row the identity has on the stream as banned.
func (r *Repository) BanAll(ctx context.Context, streamID uuid.UUID, identity models.Identity, moderatorID uuid.UUID, reason string) (int, error) {
	const q = `UPDATE viewer_sessions
		SET is_banned = TRUE, banned_by = $4, ban_reason = $5
		WHERE stream_id = $1
		AND user_id IS NOT DISTINCT FROM $2 AND session_id IS NOT DISTINCT FROM $3`
	tag, err := r.pool.Exec(ctx, q, streamID, identity.UserID, identity.SessionID, moderatorID, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SetTimeout sets timeout_until on the identity's open session. Returns false
// when the identity has no open session to time out.
func (r *Repository) SetTimeout(ctx context.Context, streamID uuid.UUID, identity models.Identity, until time.Time, moderatorID uuid.UUID) (bool, error) {
	const q = `UPDATE viewer_sessions SET timeout_until = $4, banned_by = $5
		WHERE stream_id = $1 AND left_at IS NULL
		AND user_id IS NOT DISTINCT FROM $2 AND session_id IS NOT DISTINCT FROM $3`
	tag, err := r.pool.Exec(ctx, q, streamID, identity.UserID, identity.SessionID, until, moderatorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Banned reports whether any of the identity's session rows on the stream
// carry a ban. Bans stick across rejoins because every historical row is
// marked.
func (r *Repository) Banned(ctx context.Context, streamID uuid.UUID, identity models.Identity) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM viewer_sessions
		WHERE stream_id = $1 AND is_banned
		AND user_id IS NOT DISTINCT FROM $2 AND session_id IS NOT DISTINCT FROM $3)`
	var banned bool
	err := r.pool.QueryRow(ctx, q, streamID, identity.UserID, identity.SessionID).Scan(&banned)
	return banned, err
}

// CountUnique counts distinct identities that ever had a session on the stream.
func (r *Repository) CountUnique(ctx context.Context, streamID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(DISTINCT COALESCE(user_id::TEXT, session_id))
		FROM viewer_sessions WHERE stream_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&n)
	return n, err
}

func (r *Repository) scanOne(row pgx.Row) (*models.ViewerSession, error) {
	var vs models.ViewerSession
	err := row.Scan(&vs.ID, &vs.StreamID, &vs.UserID, &vs.SessionID, &vs.IPAddress, &vs.UserAgent,
		&vs.IsBanned, &vs.TimeoutUntil, &vs.BannedBy, &vs.BanReason, &vs.JoinedAt, &vs.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vs, nil
}
