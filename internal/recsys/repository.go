package recsys

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gshop/live-backend/internal/models"
)

// candidatePoolLimit bounds the neighbor pool a collaborative query may pull.
const candidatePoolLimit = 200

// Repository reads watch history out of the viewer session log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a watch history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecentWatchedStreamIDs returns the identity's last limit distinct watched
// streams, most recent first.
func (r *Repository) RecentWatchedStreamIDs(ctx context.Context, identity models.Identity, limit int) ([]uuid.UUID, error) {
	const q = `SELECT stream_id FROM (
			SELECT stream_id, MAX(joined_at) AS last_joined
			FROM viewer_sessions
			WHERE user_id IS NOT DISTINCT FROM $1 AND session_id IS NOT DISTINCT FROM $2
			GROUP BY stream_id
		) watched
		ORDER BY last_joined DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, identity.UserID, identity.SessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WatchHistories returns, for every identity that watched at least one of the
// seed streams (excluding the asking identity), the full set of streams that
// identity watched. The neighbor pool is bounded.
func (r *Repository) WatchHistories(ctx context.Context, seed []uuid.UUID, exclude models.Identity) (map[string][]uuid.UUID, error) {
	if len(seed) == 0 {
		return nil, nil
	}
	const q = `SELECT COALESCE(user_id::TEXT, session_id) AS viewer, stream_id
		FROM viewer_sessions
		WHERE COALESCE(user_id::TEXT, session_id) IN (
			SELECT DISTINCT COALESCE(user_id::TEXT, session_id)
			FROM viewer_sessions
			WHERE stream_id = ANY($1) AND COALESCE(user_id::TEXT, session_id) <> $2
			LIMIT $3
		)
		GROUP BY viewer, stream_id`
	rows, err := r.pool.Query(ctx, q, seed, excludeKey(exclude), candidatePoolLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histories := make(map[string][]uuid.UUID)
	for rows.Next() {
		var viewer string
		var streamID uuid.UUID
		if err := rows.Scan(&viewer, &streamID); err != nil {
			return nil, err
		}
		histories[viewer] = append(histories[viewer], streamID)
	}
	return histories, rows.Err()
}

func excludeKey(identity models.Identity) string {
	if identity.UserID != nil {
		return identity.UserID.String()
	}
	if identity.SessionID != nil {
		return *identity.SessionID
	}
	return ""
}
