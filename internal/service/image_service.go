package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"baydigital/internal/integration/unsplash"
)

const imageCacheTTL = time.Hour

// ImageSearcher 由 unsplash.Client 实现
type ImageSearcher interface {
	Search(ctx context.Context, query string, page, perPage int) (*unsplash.SearchResult, error)
}

type ImageService struct {
	searcher ImageSearcher
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewImageService(searcher ImageSearcher, rdb *redis.Client, logger *zap.Logger) *ImageService {
	return &ImageService{searcher: searcher, rdb: rdb, logger: logger}
}

// Search 结果按 query/page/per_page 在 Redis 缓存 1 小时；缓存故障时直接查询上游
func (s *ImageService) Search(ctx context.Context, query string, page, perPage int) (*unsplash.SearchResult, error) {
	q, err := requireLength("q", query, 1, 100)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, invalid("page", "must be at least 1")
	}
	if perPage < 1 || perPage > 30 {
		return nil, invalid("per_page", "must be between 1 and 30")
	}

	key := imageCacheKey(q, page, perPage)
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var cached unsplash.SearchResult
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("Image cache read failed", zap.Error(err))
		}
	}

	res, err := s.searcher.Search(ctx, q, page, perPage)
	if err != nil {
		if errors.Is(err, unsplash.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: image search is not configured", ErrUnavailable)
		}
		return nil, &UpstreamError{Provider: "unsplash", Err: err}
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(res); err == nil {
			if err := s.rdb.Set(ctx, key, raw, imageCacheTTL).Err(); err != nil {
				s.logger.Warn("Image cache write failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

func imageCacheKey(q string, page, perPage int) string {
	return fmt.Sprintf("images:search:%s:%d:%d", url.QueryEscape(strings.ToLower(q)), page, perPage)
}
