package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricsSample is one append-only timeseries point for a live stream,
// written by the collector once per tick and pruned by the retention sweep.
type MetricsSample struct {
	ID                uuid.UUID `json:"id"`
	StreamID          uuid.UUID `json:"stream_id"`
	ViewerCount       int       `json:"viewer_count"`
	MessagesPerMinute int       `json:"messages_per_minute"`
	ReactionsCount    int       `json:"reactions_count"`
	PurchasesCount    int       `json:"purchases_count"`
	Revenue           float64   `json:"revenue"`
	ConversionRate    float64   `json:"conversion_rate"`
	RecordedAt        time.Time `json:"recorded_at"`
}
