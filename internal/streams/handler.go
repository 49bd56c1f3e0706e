package streams

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gshop/live-backend/internal/middleware"
	"github.com/gshop/live-backend/internal/models"
	"github.com/gshop/live-backend/pkg/response"
)

// Handler handles stream HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a stream handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// host builds the acting host from the JWT claims gin stored.
func host(c *gin.Context) models.Host {
	accountID := c.MustGet(middleware.ContextAccountID).(uuid.UUID)
	kind := models.HostSeller
	if role, _ := c.Get(middleware.ContextRole); role == string(models.HostAffiliate) {
		kind = models.HostAffiliate
	}
	return models.Host{ID: accountID, Kind: kind}
}

func streamID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /streams (host only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	st, err := h.svc.Create(c.Request.Context(), host(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, st)
}

// Get handles GET /streams/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	st, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// ListActive handles GET /streams/live.
func (h *Handler) ListActive(c *gin.Context) {
	list, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// ListMine handles GET /streams/mine (host only).
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListByHost(c.Request.Context(), host(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /streams/:id (host only).
func (h *Handler) Update(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var req UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	st, err := h.svc.Update(c.Request.Context(), id, host(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Start handles POST /streams/:id/start (host only).
func (h *Handler) Start(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	st, err := h.svc.Start(c.Request.Context(), id, host(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// End handles POST /streams/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	st, err := h.svc.End(c.Request.Context(), id, host(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Cancel handles POST /streams/:id/cancel (host only).
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), id, host(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete handles DELETE /streams/:id (host only).
func (h *Handler) Delete(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, host(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stats handles GET /streams/:id/stats (host only).
func (h *Handler) Stats(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), id, host(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// AddProduct handles POST /streams/:id/products (host only).
func (h *Handler) AddProduct(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	var req ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.AddProduct(c.Request.Context(), id, host(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// RemoveProduct handles DELETE /streams/:id/products/:productId (host only).
func (h *Handler) RemoveProduct(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	if err := h.svc.RemoveProduct(c.Request.Context(), id, productID, host(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// HighlightProduct handles POST /streams/:id/products/:productId/highlight (host only).
func (h *Handler) HighlightProduct(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	if err := h.svc.HighlightProduct(c.Request.Context(), id, productID, host(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UnhighlightProduct handles DELETE /streams/:id/products/highlight (host only).
func (h *Handler) UnhighlightProduct(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	if err := h.svc.UnhighlightProduct(c.Request.Context(), id, host(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListProducts handles GET /streams/:id/products.
func (h *Handler) ListProducts(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}
	list, err := h.svc.ListProducts(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
