package channels

import (
	"context"

	"github.com/gshop/live-backend/internal/models"
)

// Provider is the external broadcast provider collaborator (AWS IVS in
// production, the in-memory mock in dev/tests). Create reports quota
// exhaustion with ivs.ErrQuotaExceeded so the manager can distinguish it from
// transport failures and fall back to system-wide reuse.
type Provider interface {
	Create(ctx context.Context, name string) (*models.Channel, error)
	Get(ctx context.Context, channelID string) (*models.Channel, error)
	Delete(ctx context.Context, channelID string) error
	GetKey(ctx context.Context, channelID string) (string, error)
	List(ctx context.Context) ([]string, error)
}
