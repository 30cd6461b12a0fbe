package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/service"
)

type SocialService interface {
	Create(ctx context.Context, actor service.Actor, in service.PostInput) (*model.SocialPost, error)
	Update(ctx context.Context, actor service.Actor, id int64, patch service.PostPatch) (*model.SocialPost, error)
	Cancel(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error)
	Get(ctx context.Context, actor service.Actor, id int64) (*model.SocialPost, error)
	List(ctx context.Context, actor service.Actor, in service.PostListInput) ([]model.SocialPost, error)
}

type SocialHandler struct {
	posts  SocialService
	logger *zap.Logger
}

func NewSocialHandler(posts SocialService, logger *zap.Logger) *SocialHandler {
	return &SocialHandler{posts: posts, logger: logger}
}

// Create POST /social/posts
func (h *SocialHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req struct {
		Platforms   []string   `json:"platforms" binding:"required"`
		Content     string     `json:"content" binding:"required"`
		ImageURL    string     `json:"image_url"`
		ScheduledAt *time.Time `json:"scheduled_at"`
		Status      string     `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	p, err := h.posts.Create(c.Request.Context(), actor, service.PostInput{
		Platforms:   req.Platforms,
		Content:     req.Content,
		ImageURL:    req.ImageURL,
		ScheduledAt: req.ScheduledAt,
		Status:      req.Status,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// List GET /social/posts?status=&from=&to=
func (h *SocialHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	from, ok := optionalTime(c, "from")
	if !ok {
		return
	}
	to, ok := optionalTime(c, "to")
	if !ok {
		return
	}
	limit, offset := page(c)

	posts, err := h.posts.List(c.Request.Context(), actor, service.PostListInput{
		Status: c.Query("status"),
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// Get GET /social/posts/:id
func (h *SocialHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.posts.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Update PATCH /social/posts/:id
// scheduled_at 显式传 null 时清除排期并转为草稿
func (h *SocialHandler) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		badRequest(c, "invalid request")
		return
	}
	var req struct {
		Platforms   *[]string  `json:"platforms"`
		Content     *string    `json:"content"`
		ImageURL    *string    `json:"image_url"`
		ScheduledAt *time.Time `json:"scheduled_at"`
		Status      *string    `json:"status"`
	}
	if err := remarshal(raw, &req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	v, present := raw["scheduled_at"]

	p, err := h.posts.Update(c.Request.Context(), actor, id, service.PostPatch{
		Platforms:     req.Platforms,
		Content:       req.Content,
		ImageURL:      req.ImageURL,
		ScheduledAt:   req.ScheduledAt,
		ClearSchedule: present && v == nil,
		Status:        req.Status,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Cancel DELETE /social/posts/:id
func (h *SocialHandler) Cancel(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.posts.Cancel(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// optionalTime 解析 RFC3339 查询参数
func optionalTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, key+" must be an RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}
