package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/integration/unsplash"
	"baydigital/internal/model"
	"baydigital/internal/service"
)

type ContentService interface {
	Generate(ctx context.Context, actor service.Actor, in service.GenerateInput) (*service.GenerateResult, error)
	Quota(ctx context.Context, actor service.Actor) (*service.Quota, error)
	History(ctx context.Context, actor service.Actor, limit, offset int) ([]model.AIGeneration, error)
}

type ContentHandler struct {
	content ContentService
	logger  *zap.Logger
}

func NewContentHandler(content ContentService, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{content: content, logger: logger}
}

// Generate POST /ai/generate
func (h *ContentHandler) Generate(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req struct {
		Kind     string `json:"kind" binding:"required"`
		Topic    string `json:"topic" binding:"required"`
		Tone     string `json:"tone"`
		Platform string `json:"platform"`
		Length   string `json:"length"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.content.Generate(c.Request.Context(), actor, service.GenerateInput{
		Kind:     req.Kind,
		Topic:    req.Topic,
		Tone:     req.Tone,
		Platform: req.Platform,
		Length:   req.Length,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Quota GET /ai/quota
func (h *ContentHandler) Quota(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	q, err := h.content.Quota(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// History GET /ai/generations
func (h *ContentHandler) History(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	list, err := h.content.History(c.Request.Context(), actor, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": list})
}

type ImageService interface {
	Search(ctx context.Context, query string, page, perPage int) (*unsplash.SearchResult, error)
}

type ImageHandler struct {
	images ImageService
	logger *zap.Logger
}

func NewImageHandler(images ImageService, logger *zap.Logger) *ImageHandler {
	return &ImageHandler{images: images, logger: logger}
}

// Search GET /images/search?q=&page=&per_page=
func (h *ImageHandler) Search(c *gin.Context) {
	pageNum, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		badRequest(c, "page must be a number")
		return
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "12"))
	if err != nil {
		badRequest(c, "per_page must be a number")
		return
	}

	res, err := h.images.Search(c.Request.Context(), c.Query("q"), pageNum, perPage)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
