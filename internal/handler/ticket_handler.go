package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/service"
)

type TicketService interface {
	Create(ctx context.Context, actor service.Actor, in service.CreateTicketInput) (*model.Ticket, error)
	List(ctx context.Context, actor service.Actor, in service.TicketListInput) ([]model.Ticket, error)
	Get(ctx context.Context, actor service.Actor, id int64) (*service.TicketDetail, error)
	Reply(ctx context.Context, actor service.Actor, id int64, in service.ReplyInput) (*model.TicketMessage, error)
	UpdateStatus(ctx context.Context, actor service.Actor, id int64, status string) (*model.Ticket, error)
	Search(ctx context.Context, actor service.Actor, in service.TicketSearchInput) (*service.TicketSearchResult, error)
}

type TicketHandler struct {
	tickets TicketService
	logger  *zap.Logger
}

func NewTicketHandler(tickets TicketService, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{tickets: tickets, logger: logger}
}

// Create POST /tickets
func (h *TicketHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req struct {
		TenantID      int64  `json:"tenant_id"`
		Subject       string `json:"subject" binding:"required"`
		Body          string `json:"body" binding:"required"`
		Category      string `json:"category"`
		Priority      string `json:"priority"`
		AttachmentKey string `json:"attachment_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	t, err := h.tickets.Create(c.Request.Context(), actor, service.CreateTicketInput{
		TenantID:      req.TenantID,
		Subject:       req.Subject,
		Body:          req.Body,
		Category:      req.Category,
		Priority:      req.Priority,
		AttachmentKey: req.AttachmentKey,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List GET /tickets?status=&tenant_id=
func (h *TicketHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	tenantID, _ := strconv.ParseInt(c.Query("tenant_id"), 10, 64)

	list, err := h.tickets.List(c.Request.Context(), actor, service.TicketListInput{
		Status:   c.Query("status"),
		TenantID: tenantID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list})
}

// Get GET /tickets/:id
func (h *TicketHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.tickets.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Reply POST /tickets/:id/messages
func (h *TicketHandler) Reply(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Body          string `json:"body" binding:"required"`
		AttachmentKey string `json:"attachment_key"`
		Internal      bool   `json:"internal"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	m, err := h.tickets.Reply(c.Request.Context(), actor, id, service.ReplyInput{
		Body:          req.Body,
		AttachmentKey: req.AttachmentKey,
		Internal:      req.Internal,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// UpdateStatus PATCH /tickets/:id/status
func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	t, err := h.tickets.UpdateStatus(c.Request.Context(), actor, id, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Search GET /tickets/search?q=
func (h *TicketHandler) Search(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	tenantID, _ := strconv.ParseInt(c.Query("tenant_id"), 10, 64)

	res, err := h.tickets.Search(c.Request.Context(), actor, service.TicketSearchInput{
		Query:    c.Query("q"),
		Status:   c.Query("status"),
		TenantID: tenantID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
