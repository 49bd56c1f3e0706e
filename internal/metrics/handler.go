package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gshop/live-backend/pkg/response"
)

// Handler serves the metrics timeseries for host dashboards.
type Handler struct {
	repo *Repository
}

// NewHandler creates a metrics handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// History handles GET /streams/:id/metrics. The hours query param bounds the
// window, default 24, max the 7-day retention.
func (h *Handler) History(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 168 {
			hours = n
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	samples, err := h.repo.History(c.Request.Context(), streamID, since)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, samples)
}

// Summary handles GET /streams/:id/metrics/summary.
func (h *Handler) Summary(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	summary, err := h.repo.Summary(c.Request.Context(), streamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}
