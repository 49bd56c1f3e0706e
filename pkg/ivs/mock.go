package ivs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/models"
)

// Mock is an in-memory stand-in for the IVS provider, used in local dev and
// tests. A non-negative Quota makes Create fail with ErrQuotaExceeded once the
// inventory is full, which exercises the reuse fallback tiers.
type Mock struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
	Quota    int
	logger   *zap.Logger
}

// NewMock creates a mock provider. quota < 0 means unlimited.
func NewMock(quota int, logger *zap.Logger) *Mock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mock{channels: make(map[string]*models.Channel), Quota: quota, logger: logger}
}

// Create provisions a fake channel with locally generated credentials.
func (m *Mock) Create(ctx context.Context, name string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Quota >= 0 && len(m.channels) >= m.Quota {
		return nil, fmt.Errorf("create channel %q: %w", name, ErrQuotaExceeded)
	}
	id := "arn:aws:ivs:mock:channel/" + uuid.New().String()
	ch := &models.Channel{
		ID:          id,
		StreamKey:   "sk_mock_" + uuid.New().String(),
		IngestURL:   "rtmps://mock.ingest.live-video.net:443/app/",
		PlaybackURL: "https://mock.playback.live-video.net/api/video/v1/" + uuid.New().String() + ".m3u8",
	}
	m.channels[id] = ch
	m.logger.Debug("mock channel created", zap.String("channel_id", id), zap.String("name", name))
	cp := *ch
	return &cp, nil
}

// Get fetches a fake channel by id.
func (m *Mock) Get(ctx context.Context, channelID string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	cp := *ch
	cp.StreamKey = ""
	return &cp, nil
}

// Delete removes a fake channel.
func (m *Mock) Delete(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	return nil
}

// GetKey returns the stream key for a fake channel.
func (m *Mock) GetKey(ctx context.Context, channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return "", ErrChannelNotFound
	}
	return ch.StreamKey, nil
}

// List returns all fake channel ids.
func (m *Mock) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids, nil
}
