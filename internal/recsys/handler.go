package recsys

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gshop/live-backend/internal/auth"
	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/response"
)

const defaultFeedLimit = 20

// Handler serves the discovery feeds. Both endpoints are public; for-you
// personalizes when the caller presents a JWT or a browser session id.
type Handler struct {
	engine *Engine
	jwt    *auth.JWTService
}

// NewHandler creates a recommendations handler.
func NewHandler(engine *Engine, jwt *auth.JWTService) *Handler {
	return &Handler{engine: engine, jwt: jwt}
}

// Trending handles GET /discover/trending.
func (h *Handler) Trending(c *gin.Context) {
	recs, err := h.engine.Trending(c.Request.Context(), limit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, recs)
}

// ForYou handles GET /discover/for-you.
func (h *Handler) ForYou(c *gin.Context) {
	recs, err := h.engine.ForYou(c.Request.Context(), h.identity(c), limit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, recs)
}

// identity resolves the caller: JWT bearer token first, anonymous session id
// second, fully anonymous otherwise.
func (h *Handler) identity(c *gin.Context) models.Identity {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		if claims, err := h.jwt.Validate(header[7:]); err == nil {
			id := claims.AccountID
			return models.Identity{UserID: &id}
		}
	}
	if sid := c.Query("session_id"); sid != "" {
		return models.Identity{SessionID: &sid}
	}
	return models.Identity{}
}

func limit(c *gin.Context) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return defaultFeedLimit
}
