package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat line in a stream. Immutable after creation except the
// soft-delete fields set by a moderator.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	StreamID  uuid.UUID  `json:"stream_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Username  string     `json:"username"`
	Text      string     `json:"message"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedBy *uuid.UUID `json:"deleted_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	SentAt    time.Time  `json:"sent_at"`
}
