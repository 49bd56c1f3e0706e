// Package channels manages the pool of external broadcast channels shared by
// all live streams under a hard provider quota. A channel is bound to at most
// one stream at a time; every reuse path strips the donor stream's stored
// credentials through a compare-and-set update before the channel changes
// hands.
package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/ivs"
)

// StreamStore is the slice of stream persistence the manager needs: donor
// candidate lookups plus the atomic credential-clearing update.
type StreamStore interface {
	// LatestReleasableByHost returns the host's most-recently-updated
	// ENDED/CANCELLED stream that still holds channel credentials, or nil.
	LatestReleasableByHost(ctx context.Context, host models.Host) (*models.Stream, error)
	// StaleScheduledByHost returns a host stream still SCHEDULED whose channel
	// was bound before the cutoff and that never went live, or nil.
	StaleScheduledByHost(ctx context.Context, host models.Host, before time.Time) (*models.Stream, error)
	// LatestReleasableAny is LatestReleasableByHost without the host scope.
	LatestReleasableAny(ctx context.Context) (*models.Stream, error)
	// StaleScheduledAny is StaleScheduledByHost without the host scope.
	StaleScheduledAny(ctx context.Context, before time.Time) (*models.Stream, error)
	// ClearChannel nulls the stream's channel credential fields only if the
	// stream still holds channelID. Returns false when another acquirer won.
	ClearChannel(ctx context.Context, streamID uuid.UUID, channelID string) (bool, error)
	// Cancel moves a SCHEDULED stream to CANCELLED.
	Cancel(ctx context.Context, streamID uuid.UUID) error
}

// Manager acquires and releases broadcast channels for streams.
type Manager struct {
	provider         Provider
	store            StreamStore
	hostStaleAfter   time.Duration
	globalStaleAfter time.Duration
	logger           *zap.Logger
}

// NewManager creates a channel resource manager.
func NewManager(provider Provider, store StreamStore, hostStaleAfter, globalStaleAfter time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hostStaleAfter <= 0 {
		hostStaleAfter = 24 * time.Hour
	}
	if globalStaleAfter <= 0 {
		globalStaleAfter = time.Hour
	}
	return &Manager{
		provider:         provider,
		store:            store,
		hostStaleAfter:   hostStaleAfter,
		globalStaleAfter: globalStaleAfter,
		logger:           logger,
	}
}

// Acquire finds a broadcast channel for a new stream. Tiers, first success
// wins:
//
//  1. reuse the host's most recent ENDED/CANCELLED channel
//  2. reuse the host's stale SCHEDULED stream (cancelling the donor)
//  3. create a fresh channel at the provider
//  4. on quota exhaustion: reuse any ENDED/CANCELLED channel system-wide
//  5. reuse any stale SCHEDULED stream system-wide
//  6. adopt a channel straight from the provider's inventory
//
// Returns apperr.ErrResourceExhausted when all six come up empty.
func (m *Manager) Acquire(ctx context.Context, host models.Host) (*models.Channel, error) {
	now := time.Now()

	// Tier 1: the host's own ended/cancelled streams.
	donor, err := m.store.LatestReleasableByHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("lookup host releasable: %w", err)
	}
	if ch := m.takeFrom(ctx, donor); ch != nil {
		m.logger.Info("channel reused from host history",
			zap.String("host_id", host.ID.String()), zap.String("channel_id", ch.ID))
		return ch, nil
	}

	// Tier 2: the host's stale scheduled stream that never went live.
	donor, err = m.store.StaleScheduledByHost(ctx, host, now.Add(-m.hostStaleAfter))
	if err != nil {
		return nil, fmt.Errorf("lookup host stale scheduled: %w", err)
	}
	if ch := m.takeFrom(ctx, donor); ch != nil {
		if err := m.store.Cancel(ctx, donor.ID); err != nil {
			m.logger.Warn("cancel stale donor stream", zap.Error(err), zap.String("stream_id", donor.ID.String()))
		}
		m.logger.Info("channel reused from stale scheduled stream",
			zap.String("host_id", host.ID.String()), zap.String("channel_id", ch.ID))
		return ch, nil
	}

	// Tier 3: fresh channel from the provider.
	ch, err := m.provider.Create(ctx, channelName(host))
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ivs.ErrQuotaExceeded) {
		return nil, fmt.Errorf("provider create: %w", err)
	}
	m.logger.Warn("provider channel quota exceeded, falling back to system-wide reuse",
		zap.String("host_id", host.ID.String()))

	// Tier 4: any ended/cancelled channel system-wide.
	donor, err = m.store.LatestReleasableAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup releasable: %w", err)
	}
	if ch := m.takeFrom(ctx, donor); ch != nil {
		m.logger.Info("channel reused system-wide", zap.String("channel_id", ch.ID))
		return ch, nil
	}

	// Tier 5: any stale scheduled stream system-wide.
	donor, err = m.store.StaleScheduledAny(ctx, now.Add(-m.globalStaleAfter))
	if err != nil {
		return nil, fmt.Errorf("lookup stale scheduled: %w", err)
	}
	if ch := m.takeFrom(ctx, donor); ch != nil {
		if err := m.store.Cancel(ctx, donor.ID); err != nil {
			m.logger.Warn("cancel stale donor stream", zap.Error(err), zap.String("stream_id", donor.ID.String()))
		}
		m.logger.Info("channel reused from system-wide stale scheduled stream", zap.String("channel_id", ch.ID))
		return ch, nil
	}

	// Tier 6: adopt from the provider's own inventory.
	if ch := m.adoptFromInventory(ctx); ch != nil {
		m.logger.Info("channel adopted from provider inventory", zap.String("channel_id", ch.ID))
		return ch, nil
	}

	return nil, apperr.ErrResourceExhausted
}

// Destroy deletes the provider channel a stream holds. Used by stream
// deletion; errors are surfaced so callers can decide whether to log or fail.
func (m *Manager) Destroy(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	if err := m.provider.Delete(ctx, channelID); err != nil {
		return fmt.Errorf("destroy channel: %w", err)
	}
	return nil
}

// takeFrom attempts to claim the donor stream's channel. Credentials come from
// the already-loaded row; the claim itself is the conditional ClearChannel
// update, so two concurrent acquirers can never both win the same donor.
func (m *Manager) takeFrom(ctx context.Context, donor *models.Stream) *models.Channel {
	if donor == nil || !donor.HasChannel() {
		return nil
	}
	won, err := m.store.ClearChannel(ctx, donor.ID, *donor.ChannelID)
	if err != nil {
		m.logger.Warn("clear donor channel", zap.Error(err), zap.String("stream_id", donor.ID.String()))
		return nil
	}
	if !won {
		return nil
	}
	ch := &models.Channel{ID: *donor.ChannelID}
	if donor.StreamKey != nil {
		ch.StreamKey = *donor.StreamKey
	}
	if donor.IngestURL != nil {
		ch.IngestURL = *donor.IngestURL
	}
	if donor.PlaybackURL != nil {
		ch.PlaybackURL = *donor.PlaybackURL
	}
	return ch
}

// adoptFromInventory walks the provider's channel list and adopts the first
// channel whose credentials are still retrievable.
func (m *Manager) adoptFromInventory(ctx context.Context) *models.Channel {
	ids, err := m.provider.List(ctx)
	if err != nil {
		m.logger.Warn("list provider inventory", zap.Error(err))
		return nil
	}
	for _, id := range ids {
		key, err := m.provider.GetKey(ctx, id)
		if err != nil {
			continue
		}
		ch, err := m.provider.Get(ctx, id)
		if err != nil {
			continue
		}
		ch.StreamKey = key
		return ch
	}
	return nil
}

func channelName(host models.Host) string {
	return fmt.Sprintf("%s-%s", host.Kind, host.ID)
}
