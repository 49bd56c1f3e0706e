// Package moderation gates chat: ban and timeout state on viewer sessions,
// the per-identity rate limit, and moderator message deletion.
package moderation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

// SessionStore is the viewer session surface moderation needs.
type SessionStore interface {
	GetOpen(ctx context.Context, streamID uuid.UUID, identity models.Identity) (*models.ViewerSession, error)
	Banned(ctx context.Context, streamID uuid.UUID, identity models.Identity) (bool, error)
	BanAll(ctx context.Context, streamID uuid.UUID, identity models.Identity, moderatorID uuid.UUID, reason string) (int, error)
	SetTimeout(ctx context.Context, streamID uuid.UUID, identity models.Identity, until time.Time, moderatorID uuid.UUID) (bool, error)
}

// MessageStore is the message surface moderation needs.
type MessageStore interface {
	SoftDeleteMessage(ctx context.Context, messageID, moderatorID uuid.UUID) (bool, error)
}

// Service enforces chat moderation rules.
type Service struct {
	sessions SessionStore
	messages MessageStore
	limiter  *RateLimiter
	logger   *zap.Logger
}

// NewService creates a moderation service.
func NewService(sessions SessionStore, messages MessageStore, limiter *RateLimiter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sessions: sessions, messages: messages, limiter: limiter, logger: logger}
}

// CanSend checks whether the identity may chat on the stream right now.
// Check order: ban, then timeout, then rate limit. The rate limit counts the
// attempt only after the sender passed the other gates.
func (s *Service) CanSend(ctx context.Context, streamID uuid.UUID, identity models.Identity) error {
	banned, err := s.sessions.Banned(ctx, streamID, identity)
	if err != nil {
		return err
	}
	if banned {
		return apperr.Forbiddenf("you are banned from this stream")
	}

	open, err := s.sessions.GetOpen(ctx, streamID, identity)
	if err != nil {
		return err
	}
	if open != nil && open.TimedOut(time.Now()) {
		return apperr.Forbiddenf("you are timed out until %s", open.TimeoutUntil.Format(time.RFC3339))
	}

	if !s.limiter.Allow(limiterKey(streamID, identity)) {
		return apperr.ErrRateLimited
	}
	return nil
}

// Ban marks every session row the identity has on the stream.
func (s *Service) Ban(ctx context.Context, streamID uuid.UUID, identity models.Identity, moderatorID uuid.UUID, reason string) error {
	n, err := s.sessions.BanAll(ctx, streamID, identity, moderatorID, reason)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFoundf("no sessions for that viewer on this stream")
	}
	s.logger.Info("viewer banned",
		zap.String("stream_id", streamID.String()),
		zap.String("identity", identity.Key()),
		zap.String("moderator_id", moderatorID.String()),
		zap.String("reason", reason))
	return nil
}

// Timeout silences the identity's open session for the given duration.
func (s *Service) Timeout(ctx context.Context, streamID uuid.UUID, identity models.Identity, d time.Duration, moderatorID uuid.UUID) (time.Time, error) {
	until := time.Now().Add(d)
	ok, err := s.sessions.SetTimeout(ctx, streamID, identity, until, moderatorID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, apperr.NotFoundf("viewer has no open session on this stream")
	}
	s.logger.Info("viewer timed out",
		zap.String("stream_id", streamID.String()),
		zap.String("identity", identity.Key()),
		zap.Time("until", until))
	return until, nil
}

// DeleteMessage soft-deletes a chat message, retaining actor and timestamp.
func (s *Service) DeleteMessage(ctx context.Context, messageID, moderatorID uuid.UUID) error {
	ok, err := s.messages.SoftDeleteMessage(ctx, messageID, moderatorID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFoundf("message %s not found", messageID)
	}
	return nil
}

// ForgetViewer drops the identity's rate-limit window after it leaves.
func (s *Service) ForgetViewer(streamID uuid.UUID, identity models.Identity) {
	s.limiter.Forget(limiterKey(streamID, identity))
}

func limiterKey(streamID uuid.UUID, identity models.Identity) string {
	return streamID.String() + "/" + identity.Key()
}
