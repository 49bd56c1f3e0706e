package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is who a viewer connection belongs to: an authenticated user or an
// anonymous browser session. Exactly one field is set.
type Identity struct {
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	SessionID *string    `json:"session_id,omitempty"`
}

// Anonymous reports whether the identity has no authenticated user.
func (i Identity) Anonymous() bool { return i.UserID == nil }

// Key returns a stable string form for map keys and rate-limiter buckets.
func (i Identity) Key() string {
	if i.UserID != nil {
		return "u:" + i.UserID.String()
	}
	if i.SessionID != nil {
		return "s:" + *i.SessionID
	}
	return ""
}

// ViewerSession is one identity's bounded presence in a stream. At most one
// open session (LeftAt == nil) exists per (stream, identity).
type ViewerSession struct {
	ID           uuid.UUID  `json:"id"`
	StreamID     uuid.UUID  `json:"stream_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	SessionID    *string    `json:"session_id,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	IsBanned     bool       `json:"is_banned"`
	TimeoutUntil *time.Time `json:"timeout_until,omitempty"`
	BannedBy     *uuid.UUID `json:"banned_by,omitempty"`
	BanReason    string     `json:"ban_reason,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
}

// Identity returns the session's identity pair.
func (v *ViewerSession) Identity() Identity {
	return Identity{UserID: v.UserID, SessionID: v.SessionID}
}

// TimedOut reports whether the session is under an active timeout at now.
func (v *ViewerSession) TimedOut(now time.Time) bool {
	return v.TimeoutUntil != nil && v.TimeoutUntil.After(now)
}
