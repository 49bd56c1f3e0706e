package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/auth"
	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/response"
)

// Moderator gates REST message sends the same way the socket path is gated.
type Moderator interface {
	CanSend(ctx context.Context, streamID uuid.UUID, identity models.Identity) error
}

// StreamReader checks the target stream is live before accepting a message.
type StreamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// Publisher fans a persisted message out to the stream room.
type Publisher interface {
	PublishOnly(streamID uuid.UUID, event string, payload interface{})
}

// Handler serves the chat REST fallback: history for clients that reconnect or
// render outside the socket, and message send for clients without a socket.
type Handler struct {
	repo         *Repository
	moderator    Moderator
	streams      StreamReader
	publisher    Publisher
	jwt          *auth.JWTService
	historyLimit int
}

// NewHandler creates a chat handler.
func NewHandler(repo *Repository, moderator Moderator, streams StreamReader, publisher Publisher,
	jwt *auth.JWTService, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Handler{
		repo:         repo,
		moderator:    moderator,
		streams:      streams,
		publisher:    publisher,
		jwt:          jwt,
		historyLimit: historyLimit,
	}
}

// ListMessages handles GET /streams/:id/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	messages, err := h.repo.RecentMessages(c.Request.Context(), streamID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, messages)
}

type postMessageRequest struct {
	Text      string `json:"text" binding:"required"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// PostMessage handles POST /streams/:id/messages, the send fallback for
// clients without a socket. Same gates as the socket path: stream must be
// LIVE and the sender passes moderation.
func (h *Handler) PostMessage(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "text is required")
		return
	}

	identity, username := h.identity(c, req.SessionID, req.Username)
	if identity.UserID == nil && identity.SessionID == nil {
		response.BadRequest(c, "token or session_id required")
		return
	}

	ctx := c.Request.Context()
	st, err := h.streams.GetByID(ctx, streamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if st == nil {
		response.Error(c, apperr.NotFoundf("stream %s not found", streamID))
		return
	}
	if st.Status != models.StatusLive {
		response.Error(c, apperr.BadRequestf("stream is not live"))
		return
	}
	if err := h.moderator.CanSend(ctx, streamID, identity); err != nil {
		response.Error(c, err)
		return
	}

	m := &models.Message{
		StreamID: streamID,
		UserID:   identity.UserID,
		Username: username,
		Text:     req.Text,
	}
	if err := h.repo.SaveMessage(ctx, m); err != nil {
		response.Error(c, err)
		return
	}
	h.publisher.PublishOnly(streamID, "new_message", m)
	response.Created(c, m)
}

// identity resolves the sender: JWT bearer token first, anonymous session id
// otherwise. Mirrors the socket handshake.
func (h *Handler) identity(c *gin.Context, sessionID, username string) (models.Identity, string) {
	if raw := c.GetHeader("Authorization"); strings.HasPrefix(raw, "Bearer ") && h.jwt != nil {
		if claims, err := h.jwt.Validate(strings.TrimPrefix(raw, "Bearer ")); err == nil {
			id := claims.AccountID
			if username == "" {
				username = id.String()[:8]
			}
			return models.Identity{UserID: &id}, username
		}
	}
	if username == "" {
		username = "viewer"
	}
	if sessionID == "" {
		return models.Identity{}, username
	}
	return models.Identity{SessionID: &sessionID}, username
}
