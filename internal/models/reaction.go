package models

import (
	"time"

	"github.com/google/uuid"
)

// ReactionType enumerates the viewer reactions a stream accepts.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionHeart ReactionType = "heart"
	ReactionFire  ReactionType = "fire"
	ReactionClap  ReactionType = "clap"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
)

// Reaction is one viewer reaction event. Immutable.
type Reaction struct {
	ID        uuid.UUID    `json:"id"`
	StreamID  uuid.UUID    `json:"stream_id"`
	UserID    *uuid.UUID   `json:"user_id,omitempty"`
	SessionID *string      `json:"session_id,omitempty"`
	Type      ReactionType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
}
