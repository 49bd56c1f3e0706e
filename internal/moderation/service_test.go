package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	base := time.Now()
	clock := base
	l := NewRateLimiter(5, 10*time.Second)
	l.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("v"), "call %d inside the window", i+1)
	}
	assert.False(t, l.Allow("v"), "6th call inside the window")

	clock = base.Add(9 * time.Second)
	assert.False(t, l.Allow("v"), "still inside the window")

	clock = base.Add(10 * time.Second)
	assert.True(t, l.Allow("v"), "window elapsed, counter reset")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestRateLimiterForget(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	l.Forget("a")
	assert.True(t, l.Allow("a"))
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.ViewerSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*models.ViewerSession)}
}

func key(streamID uuid.UUID, id models.Identity) string {
	return streamID.String() + "/" + id.Key()
}

func (m *memSessions) add(streamID uuid.UUID, id models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key(streamID, id)] = &models.ViewerSession{
		ID:        uuid.New(),
		StreamID:  streamID,
		UserID:    id.UserID,
		SessionID: id.SessionID,
		JoinedAt:  time.Now(),
	}
}

func (m *memSessions) GetOpen(_ context.Context, streamID uuid.UUID, id models.Identity) (*models.ViewerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.sessions[key(streamID, id)]
	if !ok || vs.LeftAt != nil {
		return nil, nil
	}
	cp := *vs
	return &cp, nil
}

func (m *memSessions) Banned(_ context.Context, streamID uuid.UUID, id models.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.sessions[key(streamID, id)]
	return ok && vs.IsBanned, nil
}

func (m *memSessions) BanAll(_ context.Context, streamID uuid.UUID, id models.Identity, moderatorID uuid.UUID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.sessions[key(streamID, id)]
	if !ok {
		return 0, nil
	}
	vs.IsBanned = true
	vs.BannedBy = &moderatorID
	vs.BanReason = reason
	return 1, nil
}

func (m *memSessions) SetTimeout(_ context.Context, streamID uuid.UUID, id models.Identity, until time.Time, moderatorID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs, ok := m.sessions[key(streamID, id)]
	if !ok || vs.LeftAt != nil {
		return false, nil
	}
	vs.TimeoutUntil = &until
	vs.BannedBy = &moderatorID
	return true, nil
}

type memMessages struct {
	mu      sync.Mutex
	deleted map[uuid.UUID]uuid.UUID
	known   map[uuid.UUID]bool
}

func newMemMessages(ids ...uuid.UUID) *memMessages {
	m := &memMessages{deleted: make(map[uuid.UUID]uuid.UUID), known: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		m.known[id] = true
	}
	return m
}

func (m *memMessages) SoftDeleteMessage(_ context.Context, messageID, moderatorID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[messageID] {
		return false, nil
	}
	if _, gone := m.deleted[messageID]; gone {
		return false, nil
	}
	m.deleted[messageID] = moderatorID
	return true, nil
}

func userIdentity() models.Identity {
	id := uuid.New()
	return models.Identity{UserID: &id}
}

func TestCanSendHappyPath(t *testing.T) {
	streamID := uuid.New()
	id := userIdentity()
	sessions := newMemSessions()
	sessions.add(streamID, id)
	svc := NewService(sessions, newMemMessages(), NewRateLimiter(5, 10*time.Second), nil)

	assert.NoError(t, svc.CanSend(context.Background(), streamID, id))
}

func TestCanSendBannedBeforeRateLimit(t *testing.T) {
	streamID := uuid.New()
	id := userIdentity()
	sessions := newMemSessions()
	sessions.add(streamID, id)
	limiter := NewRateLimiter(5, 10*time.Second)
	svc := NewService(sessions, newMemMessages(), limiter, nil)

	require.NoError(t, svc.Ban(context.Background(), streamID, id, uuid.New(), "spam"))

	err := svc.CanSend(context.Background(), streamID, id)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	// A banned sender must not consume rate-limit budget.
	assert.True(t, limiter.Allow(streamID.String()+"/"+id.Key()))
}

func TestCanSendTimedOut(t *testing.T) {
	streamID := uuid.New()
	id := userIdentity()
	sessions := newMemSessions()
	sessions.add(streamID, id)
	svc := NewService(sessions, newMemMessages(), NewRateLimiter(5, 10*time.Second), nil)

	until, err := svc.Timeout(context.Background(), streamID, id, 5*time.Minute, uuid.New())
	require.NoError(t, err)
	assert.True(t, until.After(time.Now()))

	err = svc.CanSend(context.Background(), streamID, id)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCanSendRateLimitGrid(t *testing.T) {
	streamID := uuid.New()
	id := userIdentity()
	sessions := newMemSessions()
	sessions.add(streamID, id)
	svc := NewService(sessions, newMemMessages(), NewRateLimiter(5, 10*time.Second), nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.CanSend(context.Background(), streamID, id), "message %d", i+1)
	}
	err := svc.CanSend(context.Background(), streamID, id)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestTimeoutWithoutOpenSession(t *testing.T) {
	svc := NewService(newMemSessions(), newMemMessages(), NewRateLimiter(5, time.Minute), nil)
	_, err := svc.Timeout(context.Background(), uuid.New(), userIdentity(), time.Minute, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBanUnknownViewer(t *testing.T) {
	svc := NewService(newMemSessions(), newMemMessages(), NewRateLimiter(5, time.Minute), nil)
	err := svc.Ban(context.Background(), uuid.New(), userIdentity(), uuid.New(), "spam")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	msgID := uuid.New()
	messages := newMemMessages(msgID)
	svc := NewService(newMemSessions(), messages, NewRateLimiter(5, time.Minute), nil)

	require.NoError(t, svc.DeleteMessage(context.Background(), msgID, uuid.New()))
	assert.ErrorIs(t, svc.DeleteMessage(context.Background(), msgID, uuid.New()), apperr.ErrNotFound, "double delete")
	assert.ErrorIs(t, svc.DeleteMessage(context.Background(), uuid.New(), uuid.New()), apperr.ErrNotFound)
}
