package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxUploadSize   = 10 << 20
	presignedURLTTL = time.Hour
)

// 允许的类型及其扩展名，以嗅探到的内容为准
var uploadTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// ObjectStore 由 storage.Client 实现
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type UploadService struct {
	store  ObjectStore
	logger *zap.Logger
}

func NewUploadService(store ObjectStore, logger *zap.Logger) *UploadService {
	return &UploadService{store: store, logger: logger}
}

type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// TenantKeyPrefix 租户对象前缀
func TenantKeyPrefix(tenantID int64) string {
	return fmt.Sprintf("tenants/%d/", tenantID)
}

// Upload 存储到 tenants/<tenant>/<uuid><ext>，返回 1 小时有效的下载地址
func (s *UploadService) Upload(ctx context.Context, actor Actor, filename string, size int64, r io.Reader) (*UploadResult, error) {
	if actor.TenantID == 0 {
		return nil, ErrForbidden
	}
	if size <= 0 {
		return nil, invalid("file", "is empty")
	}
	if size > MaxUploadSize {
		return nil, invalid("file", "must be at most 10 MiB")
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	contentType, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	ext, ok := uploadTypes[contentType]
	if !ok {
		return nil, invalid("file", "type %s is not allowed", contentType)
	}
	if orig := strings.ToLower(filepath.Ext(filename)); orig == ".jpeg" && ext == ".jpg" {
		ext = orig
	}

	key := TenantKeyPrefix(actor.TenantID) + uuid.NewString() + ext
	if err := s.store.Put(ctx, key, io.LimitReader(br, size), size, contentType); err != nil {
		return nil, &UpstreamError{Provider: "storage", Err: err}
	}

	url, err := s.store.PresignedGetURL(ctx, key, presignedURLTTL)
	if err != nil {
		return nil, &UpstreamError{Provider: "storage", Err: err}
	}

	s.logger.Info("File uploaded",
		zap.Int64("tenant_id", actor.TenantID),
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.Int64("size", size),
	)
	return &UploadResult{Key: key, URL: url, ContentType: contentType, Size: size}, nil
}

// URL 重新签发下载地址；客户只能访问自己租户前缀下的对象
func (s *UploadService) URL(ctx context.Context, actor Actor, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", invalid("key", "is required")
	}
	if strings.Contains(key, "..") || !strings.HasPrefix(key, "tenants/") {
		return "", invalid("key", "is invalid")
	}
	if !actor.IsAdmin() && !strings.HasPrefix(key, TenantKeyPrefix(actor.TenantID)) {
		return "", ErrNotFound
	}

	url, err := s.store.PresignedGetURL(ctx, key, presignedURLTTL)
	if err != nil {
		return "", &UpstreamError{Provider: "storage", Err: err}
	}
	return url, nil
}
