// Package chat persists stream messages and reactions. Messages are immutable
// after insert except for the moderator soft-delete; soft-deleted rows stay in
// the table for audit but never reach clients again.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

// Repository handles message and reaction persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveMessage inserts a chat message.
func (r *Repository) SaveMessage(ctx context.Context, m *models.Message) error {
	const q = `INSERT INTO live_stream_messages (stream_id, user_id, username, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, sent_at`
	return r.pool.QueryRow(ctx, q, m.StreamID, m.UserID, m.Username, m.Text).Scan(&m.ID, &m.SentAt)
}

// RecentMessages returns the last limit visible messages, oldest first, as
// the join snapshot expects them.
func (r *Repository) RecentMessages(ctx context.Context, streamID uuid.UUID, limit int) ([]models.Message, error) {
	const q = `SELECT id, stream_id, user_id, username, message, is_deleted, deleted_by, deleted_at, sent_at
		FROM (
			SELECT id, stream_id, user_id, username, message, is_deleted, deleted_by, deleted_at, sent_at
			FROM live_stream_messages
			WHERE stream_id = $1 AND NOT is_deleted
			ORDER BY sent_at DESC LIMIT $2
		) recent
		ORDER BY sent_at ASC`
	rows, err := r.pool.Query(ctx, q, streamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.StreamID, &m.UserID, &m.Username, &m.Text,
			&m.IsDeleted, &m.DeletedBy, &m.DeletedAt, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// CountVisible counts the stream's non-deleted messages.
func (r *Repository) CountVisible(ctx context.Context, streamID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM live_stream_messages WHERE stream_id = $1 AND NOT is_deleted`
	var n int
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&n)
	return n, err
}

// CountMessagesSince counts visible messages sent after the cutoff, used for
// the per-tick messages-per-minute sample.
func (r *Repository) CountMessagesSince(ctx context.Context, streamID uuid.UUID, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM live_stream_messages
		WHERE stream_id = $1 AND NOT is_deleted AND sent_at >= $2`
	var n int
	err := r.pool.QueryRow(ctx, q, streamID, since).Scan(&n)
	return n, err
}

// SoftDeleteMessage marks a message deleted, keeping the actor and timestamp.
// Returns false when the message does not exist or was already deleted.
func (r *Repository) SoftDeleteMessage(ctx context.Context, messageID, moderatorID uuid.UUID) (bool, error) {
	const q = `UPDATE live_stream_messages
		SET is_deleted = TRUE, deleted_by = $2, deleted_at = NOW()
		WHERE id = $1 AND NOT is_deleted`
	tag, err := r.pool.Exec(ctx, q, messageID, moderatorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveReaction inserts a reaction event.
func (r *Repository) SaveReaction(ctx context.Context, re *models.Reaction) error {
	const q = `INSERT INTO live_stream_reactions (stream_id, user_id, session_id, type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, re.StreamID, re.UserID, re.SessionID, re.Type).Scan(&re.ID, &re.CreatedAt)
}

// CountReactionsSince counts reactions after the cutoff for the metrics tick.
func (r *Repository) CountReactionsSince(ctx context.Context, streamID uuid.UUID, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM live_stream_reactions WHERE stream_id = $1 AND created_at >= $2`
	var n int
	err := r.pool.QueryRow(ctx, q, streamID, since).Scan(&n)
	return n, err
}
