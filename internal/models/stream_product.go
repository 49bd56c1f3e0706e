package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamProduct links a product to a stream's shopping rail. At most one
// product per stream has IsHighlighted set at any time.
type StreamProduct struct {
	ID            uuid.UUID  `json:"id"`
	StreamID      uuid.UUID  `json:"stream_id"`
	ProductID     uuid.UUID  `json:"product_id"`
	SpecialPrice  *float64   `json:"special_price,omitempty"`
	OrderCount    int        `json:"order_count"`
	Revenue       float64    `json:"revenue"`
	IsActive      bool       `json:"is_active"`
	IsHighlighted bool       `json:"is_highlighted"`
	Position      *int       `json:"position,omitempty"`
	HighlightedAt *time.Time `json:"highlighted_at,omitempty"`
	AddedAt       time.Time  `json:"added_at"`
}
