package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle state of a live stream.
// Transitions are forward-only: SCHEDULED -> LIVE -> ENDED; SCHEDULED -> CANCELLED.
type StreamStatus string

const (
	StatusScheduled StreamStatus = "scheduled"
	StatusLive      StreamStatus = "live"
	StatusEnded     StreamStatus = "ended"
	StatusCancelled StreamStatus = "cancelled"
)

// HostKind identifies which account type owns a broadcast.
type HostKind string

const (
	HostSeller    HostKind = "seller"
	HostAffiliate HostKind = "affiliate"
)

// Host is a (id, kind) pair referencing the seller or affiliate that owns a stream.
type Host struct {
	ID   uuid.UUID `json:"id"`
	Kind HostKind  `json:"kind"`
}

// Stream is a live shopping broadcast. Exactly one of SellerID/AffiliateID is
// set, per HostType. Channel credential fields are non-nil only while the
// stream holds a bound broadcast channel (SCHEDULED or LIVE).
type Stream struct {
	ID          uuid.UUID    `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      StreamStatus `json:"status"`
	HostType    HostKind     `json:"host_type"`
	SellerID    *uuid.UUID   `json:"seller_id,omitempty"`
	AffiliateID *uuid.UUID   `json:"affiliate_id,omitempty"`

	ChannelID   *string `json:"channel_id,omitempty"`
	StreamKey   *string `json:"-"`
	IngestURL   *string `json:"ingest_url,omitempty"`
	PlaybackURL *string `json:"playback_url,omitempty"`

	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	ViewerCount int     `json:"viewer_count"`
	PeakViewers int     `json:"peak_viewers"`
	LikesCount  int     `json:"likes_count"`
	TotalSales  float64 `json:"total_sales"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HostID returns the owning account id regardless of host type.
func (s *Stream) HostID() uuid.UUID {
	if s.HostType == HostAffiliate && s.AffiliateID != nil {
		return *s.AffiliateID
	}
	if s.SellerID != nil {
		return *s.SellerID
	}
	return uuid.Nil
}

// HasChannel reports whether the stream currently holds channel credentials.
func (s *Stream) HasChannel() bool {
	return s.ChannelID != nil && *s.ChannelID != ""
}
