package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/service"
)

type UploadService interface {
	Upload(ctx context.Context, actor service.Actor, filename string, size int64, r io.Reader) (*service.UploadResult, error)
	URL(ctx context.Context, actor service.Actor, key string) (string, error)
}

type UploadHandler struct {
	uploads UploadService
	logger  *zap.Logger
}

func NewUploadHandler(uploads UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, logger: logger}
}

// Upload POST /uploads (multipart, 字段名 file)
func (h *UploadHandler) Upload(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	// 留 1 MiB 给 multipart 头部
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxUploadSize+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file must be at most 10 MiB"})
			return
		}
		badRequest(c, "file is required")
		return
	}
	if fh.Size > service.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file must be at most 10 MiB"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer f.Close()

	res, err := h.uploads.Upload(c.Request.Context(), actor, fh.Filename, fh.Size, f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// URL GET /uploads/url?key=
func (h *UploadHandler) URL(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	url, err := h.uploads.URL(c.Request.Context(), actor, c.Query("key"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
