package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema idempotently on startup. Larger deployments run
// migrations out of band; this covers dev and test databases.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS live_streams (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'scheduled',
			host_type TEXT NOT NULL DEFAULT 'seller',
			seller_id UUID,
			affiliate_id UUID,
			channel_id TEXT,
			stream_key TEXT,
			ingest_url TEXT,
			playback_url TEXT,
			category TEXT NOT NULL DEFAULT '',
			tags TEXT[],
			viewer_count INT NOT NULL DEFAULT 0,
			peak_viewers INT NOT NULL DEFAULT 0,
			likes_count INT NOT NULL DEFAULT 0,
			total_sales NUMERIC(12,2) NOT NULL DEFAULT 0,
			scheduled_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_live_streams_status ON live_streams (status)`,
		`CREATE INDEX IF NOT EXISTS idx_live_streams_host ON live_streams (host_type, seller_id, affiliate_id)`,

		`CREATE TABLE IF NOT EXISTS live_stream_products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
			product_id UUID NOT NULL,
			special_price NUMERIC(12,2),
			order_count INT NOT NULL DEFAULT 0,
			revenue NUMERIC(12,2) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_highlighted BOOLEAN NOT NULL DEFAULT FALSE,
			position INT,
			highlighted_at TIMESTAMPTZ,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, product_id)
		)`,

		`CREATE TABLE IF NOT EXISTS viewer_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
			user_id UUID,
			session_id TEXT,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			is_banned BOOLEAN NOT NULL DEFAULT FALSE,
			timeout_until TIMESTAMPTZ,
			banned_by UUID,
			ban_reason TEXT NOT NULL DEFAULT '',
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			left_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_viewer_sessions_open
			ON viewer_sessions (stream_id, COALESCE(user_id::TEXT, session_id))
			WHERE left_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS live_stream_messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
			user_id UUID,
			username TEXT NOT NULL,
			message TEXT NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_by UUID,
			deleted_at TIMESTAMPTZ,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_stream_sent ON live_stream_messages (stream_id, sent_at)`,

		`CREATE TABLE IF NOT EXISTS live_stream_reactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
			user_id UUID,
			session_id TEXT,
			type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_stream_created ON live_stream_reactions (stream_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS live_stream_metrics (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			stream_id UUID NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
			viewer_count INT NOT NULL,
			messages_per_minute INT NOT NULL,
			reactions_count INT NOT NULL,
			purchases_count INT NOT NULL,
			revenue NUMERIC(12,2) NOT NULL,
			conversion_rate NUMERIC(6,2) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_stream_recorded ON live_stream_metrics (stream_id, recorded_at)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			live_session_id UUID,
			total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_live_session ON orders (live_session_id)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
