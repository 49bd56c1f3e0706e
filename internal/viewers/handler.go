package viewers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gshop/live-backend/internal/apperr"
	"github.com/gshop/live-backend/internal/auth"
	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/response"
)

// StreamReader checks the target stream exists before opening a session.
type StreamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
}

// RoomCounter reports the socket room size, included in the join response so
// REST clients see the same count socket clients do.
type RoomCounter interface {
	Count(streamID uuid.UUID) int
}

// Handler serves the join/leave REST fallback for clients that track presence
// without holding a socket. The session rows it writes are the same ones the
// socket gateway writes, so the open-session upsert stays idempotent across
// both paths.
type Handler struct {
	repo    *Repository
	streams StreamReader
	rooms   RoomCounter
	jwt     *auth.JWTService
}

// NewHandler creates a viewers handler.
func NewHandler(repo *Repository, streams StreamReader, rooms RoomCounter, jwt *auth.JWTService) *Handler {
	return &Handler{repo: repo, streams: streams, rooms: rooms, jwt: jwt}
}

type presenceRequest struct {
	SessionID string `json:"session_id"`
}

// Join handles POST /streams/:id/join.
func (h *Handler) Join(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	identity, ok := h.identity(c)
	if !ok {
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

	session, err := h.repo.Open(ctx, streamID, identity, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"session":      session,
		"viewer_count": h.rooms.Count(streamID),
	})
}

// Leave handles POST /streams/:id/leave. Idempotent.
func (h *Handler) Leave(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	identity, ok := h.identity(c)
	if !ok {
		response.BadRequest(c, "token or session_id required")
		return
	}
	if err := h.repo.Close(c.Request.Context(), streamID, identity); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// identity resolves the caller: JWT bearer token first, anonymous session id
// from the body otherwise. Mirrors the socket handshake.
func (h *Handler) identity(c *gin.Context) (models.Identity, bool) {
	if raw := c.GetHeader("Authorization"); strings.HasPrefix(raw, "Bearer ") && h.jwt != nil {
		if claims, err := h.jwt.Validate(strings.TrimPrefix(raw, "Bearer ")); err == nil {
			id := claims.AccountID
			return models.Identity{UserID: &id}, true
		}
	}
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.SessionID != "" {
		return models.Identity{SessionID: &req.SessionID}, true
	}
	if sid := c.Query("session_id"); sid != "" {
		return models.Identity{SessionID: &sid}, true
	}
	return models.Identity{}, false
}
