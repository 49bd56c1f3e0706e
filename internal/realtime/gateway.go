// Package realtime is the websocket gateway for live shopping streams: one
// long-lived connection per viewer, per-stream rooms with fan-out, and the
// chat/reaction/moderation event loop.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/models"
)

// SessionStore persists viewer presence.
type SessionStore interface {
	Open(ctx context.Context, streamID uuid.UUID, identity models.Identity, ip, userAgent string) (*models.ViewerSession, error)
	Close(ctx context.Context, streamID uuid.UUID, identity models.Identity) error
}

// ChatStore persists messages and reactions.
type ChatStore interface {
	SaveMessage(ctx context.Context, m *models.Message) error
	RecentMessages(ctx context.Context, streamID uuid.UUID, limit int) ([]models.Message, error)
	SaveReaction(ctx context.Context, re *models.Reaction) error
}

// Moderator gates senders and executes host moderation actions.
type Moderator interface {
	CanSend(ctx context.Context, streamID uuid.UUID, identity models.Identity) error
	Ban(ctx context.Context, streamID uuid.UUID, identity models.Identity, moderatorID uuid.UUID, reason string) error
	Timeout(ctx context.Context, streamID uuid.UUID, identity models.Identity, d time.Duration, moderatorID uuid.UUID) (time.Time, error)
	DeleteMessage(ctx context.Context, messageID, moderatorID uuid.UUID) error
	ForgetViewer(streamID uuid.UUID, identity models.Identity)
}

// StreamStore is the stream surface the gateway touches.
type StreamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	SetViewerCount(ctx context.Context, id uuid.UUID, count int) error
	IncrementLikes(ctx context.Context, id uuid.UUID) error
	AddSales(ctx context.Context, id uuid.UUID, amount float64) error
}

// ProductStore attributes in-stream purchases to rail products.
type ProductStore interface {
	RecordOrder(ctx context.Context, streamID, productID uuid.UUID, amount float64) error
}

// Gateway wires connection events to persistence, moderation and the hub.
type Gateway struct {
	hub          *Hub
	sessions     SessionStore
	chat         ChatStore
	moderator    Moderator
	streams      StreamStore
	products     ProductStore
	historyLimit int
	logger       *zap.Logger
}

// NewGateway creates the realtime gateway. historyLimit is the number of
// recent messages included in the join snapshot.
func NewGateway(hub *Hub, sessions SessionStore, chat ChatStore, moderator Moderator,
	streams StreamStore, products ProductStore, historyLimit int, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Gateway{
		hub:          hub,
		sessions:     sessions,
		chat:         chat,
		moderator:    moderator,
		streams:      streams,
		products:     products,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// snapshot is the unicast payload a joining connection receives.
type snapshot struct {
	Stream   *models.Stream   `json:"stream"`
	Messages []models.Message `json:"messages"`
	Viewers  int              `json:"viewers"`
}

// Join runs the connect flow: register the connection, upsert the open viewer
// session (idempotent for retried joins), broadcast the new count and unicast
// the snapshot to the joining connection only.
func (g *Gateway) Join(ctx context.Context, c *Client) error {
	st, err := g.streams.GetByID(ctx, c.StreamID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFoundf("stream %s not found", c.StreamID)
	}

	c.canModerate = c.Role == "admin" ||
		(c.Identity.UserID != nil && *c.Identity.UserID == st.HostID())

	g.hub.Register(c)

	if _, err := g.sessions.Open(ctx, c.StreamID, c.Identity, c.IP, c.UserAgent); err != nil {
		g.logger.Error("open viewer session", zap.Error(err),
			zap.String("stream_id", c.StreamID.String()), zap.String("identity", c.Identity.Key()))
	}

	count := g.broadcastCount(ctx, c.StreamID)

	messages, err := g.chat.RecentMessages(ctx, c.StreamID, g.historyLimit)
	if err != nil {
		g.logger.Warn("load chat history for snapshot", zap.Error(err), zap.String("stream_id", c.StreamID.String()))
	}
	g.hub.SendToClient(c.StreamID, c.ID, "snapshot", snapshot{Stream: st, Messages: messages, Viewers: count})
	return nil
}

// Leave runs the departure flow for explicit leaves and abrupt disconnects
// alike: drop the connection from the room, close the open session and
// re-broadcast the count. Idempotent.
func (g *Gateway) Leave(ctx context.Context, c *Client) {
	g.hub.Unregister(c)

	if err := g.sessions.Close(ctx, c.StreamID, c.Identity); err != nil {
		g.logger.Error("close viewer session", zap.Error(err),
			zap.String("stream_id", c.StreamID.String()), zap.String("identity", c.Identity.Key()))
	}
	g.moderator.ForgetViewer(c.StreamID, c.Identity)

	g.broadcastCount(ctx, c.StreamID)
}

// SendMessage checks moderation, persists and fans the message out. The
// Redis-only publish path delivers it once to every instance's local room.
func (g *Gateway) SendMessage(ctx context.Context, c *Client, text string) error {
	if text == "" {
		return apperr.BadRequestf("empty message")
	}

	st, err := g.streams.GetByID(ctx, c.StreamID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFoundf("stream %s not found", c.StreamID)
	}
	if st.Status != models.StatusLive {
		return apperr.BadRequestf("stream is not live")
	}

	if err := g.moderator.CanSend(ctx, c.StreamID, c.Identity); err != nil {
		return err
	}

	m := &models.Message{
		StreamID: c.StreamID,
		UserID:   c.Identity.UserID,
		Username: c.Username,
		Text:     text,
	}
	if err := g.chat.SaveMessage(ctx, m); err != nil {
		return err
	}
	g.hub.PublishOnly(c.StreamID, "new_message", m)
	return nil
}

// SendReaction persists a reaction and broadcasts it. Likes also bump the
// stream's like counter used by trending.
func (g *Gateway) SendReaction(ctx context.Context, c *Client, kind models.ReactionType) error {
	switch kind {
	case models.ReactionLike, models.ReactionHeart, models.ReactionFire,
		models.ReactionClap, models.ReactionLaugh, models.ReactionWow:
	default:
		return apperr.BadRequestf("unknown reaction type %q", kind)
	}

	re := &models.Reaction{
		StreamID:  c.StreamID,
		UserID:    c.Identity.UserID,
		SessionID: c.Identity.SessionID,
		Type:      kind,
	}
	if err := g.chat.SaveReaction(ctx, re); err != nil {
		return err
	}
	if kind == models.ReactionLike {
		if err := g.streams.IncrementLikes(ctx, c.StreamID); err != nil {
			g.logger.Warn("increment likes", zap.Error(err), zap.String("stream_id", c.StreamID.String()))
		}
	}
	g.hub.BroadcastAndPublish(c.StreamID, "new_reaction", re)
	return nil
}

// PurchaseInput describes one in-stream purchase event.
type PurchaseInput struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	Amount      float64   `json:"amount"`
}

// PurchaseMade attributes a purchase to the stream and its rail product, then
// tells the room with the buyer anonymized. This is what feeds total_sales
// and the per-product order counters; trending and the host stats read them.
func (g *Gateway) PurchaseMade(ctx context.Context, c *Client, in PurchaseInput) error {
	if in.Amount < 0 {
		return apperr.BadRequestf("negative purchase amount")
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}

	st, err := g.streams.GetByID(ctx, c.StreamID)
	if err != nil {
		return err
	}
	if st == nil {
		return apperr.NotFoundf("stream %s not found", c.StreamID)
	}
	if st.Status != models.StatusLive {
		return apperr.BadRequestf("stream is not live")
	}

	if err := g.streams.AddSales(ctx, c.StreamID, in.Amount); err != nil {
		return err
	}
	// No-op when the product is not on the rail; the stream total still counts.
	if err := g.products.RecordOrder(ctx, c.StreamID, in.ProductID, in.Amount); err != nil {
		g.logger.Warn("attribute order to rail product", zap.Error(err),
			zap.String("stream_id", c.StreamID.String()), zap.String("product_id", in.ProductID.String()))
	}

	g.hub.BroadcastAndPublish(c.StreamID, "new_purchase", map[string]interface{}{
		"stream_id":    c.StreamID,
		"product_id":   in.ProductID,
		"product_name": in.ProductName,
		"quantity":     in.Quantity,
		"buyer":        "viewer***",
		"at":           time.Now(),
	})
	return nil
}

// BanUser executes a host ban and tells the room.
func (g *Gateway) BanUser(ctx context.Context, c *Client, target models.Identity, reason string) error {
	moderator, err := g.moderatorID(c)
	if err != nil {
		return err
	}
	if err := g.moderator.Ban(ctx, c.StreamID, target, moderator, reason); err != nil {
		return err
	}
	g.hub.BroadcastAndPublish(c.StreamID, "user_banned", map[string]interface{}{
		"stream_id": c.StreamID,
		"identity":  target,
	})
	return nil
}

// TimeoutUser silences a viewer for the given duration and tells the room.
func (g *Gateway) TimeoutUser(ctx context.Context, c *Client, target models.Identity, d time.Duration) error {
	moderator, err := g.moderatorID(c)
	if err != nil {
		return err
	}
	until, err := g.moderator.Timeout(ctx, c.StreamID, target, d, moderator)
	if err != nil {
		return err
	}
	g.hub.BroadcastAndPublish(c.StreamID, "user_timed_out", map[string]interface{}{
		"stream_id": c.StreamID,
		"identity":  target,
		"until":     until,
	})
	return nil
}

// DeleteMessage soft-deletes a message and tells the room to drop it.
func (g *Gateway) DeleteMessage(ctx context.Context, c *Client, messageID uuid.UUID) error {
	moderator, err := g.moderatorID(c)
	if err != nil {
		return err
	}
	if err := g.moderator.DeleteMessage(ctx, messageID, moderator); err != nil {
		return err
	}
	g.hub.BroadcastAndPublish(c.StreamID, "message_deleted", map[string]interface{}{
		"stream_id":  c.StreamID,
		"message_id": messageID,
	})
	return nil
}

// broadcastCount pushes the room size read at broadcast time and mirrors it
// onto the stream row so peak_viewers ratchets.
func (g *Gateway) broadcastCount(ctx context.Context, streamID uuid.UUID) int {
	count := g.hub.BroadcastViewerCount(streamID)
	if err := g.streams.SetViewerCount(ctx, streamID, count); err != nil {
		g.logger.Warn("persist viewer count", zap.Error(err), zap.String("stream_id", streamID.String()))
	}
	return count
}

func (g *Gateway) moderatorID(c *Client) (uuid.UUID, error) {
	if !c.CanModerate() || c.Identity.UserID == nil {
		return uuid.Nil, apperr.Forbiddenf("moderation requires the stream host")
	}
	return *c.Identity.UserID, nil
}
