package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"baydigital/pkg/circuitbreaker"
	"baydigital/pkg/config"
	"baydigital/pkg/metrics"
)

const defaultBaseURL = "https://api.unsplash.com"

var ErrNotConfigured = errors.New("unsplash access key not set")

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unsplash api error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Image 归一化后的图片
type Image struct {
	ID               string `json:"id"`
	Description      string `json:"description"`
	ThumbURL         string `json:"thumb_url"`
	RegularURL       string `json:"regular_url"`
	AuthorName       string `json:"author_name"`
	AuthorURL        string `json:"author_url"`
	DownloadLocation string `json:"download_location"`
}

type SearchResult struct {
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
	Images     []Image `json:"images"`
}

type searchResponse struct {
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	Results    []struct {
		ID             string `json:"id"`
		Description    string `json:"description"`
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Thumb   string `json:"thumb"`
			Regular string `json:"regular"`
		} `json:"urls"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
		Links struct {
			DownloadLocation string `json:"download_location"`
		} `json:"links"`
	} `json:"results"`
}

type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.UnsplashConfig, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.IsFailure = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Retryable()
		}
		return true
	}

	return &Client{
		baseURL:    baseURL,
		accessKey:  cfg.AccessKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    circuitbreaker.NewCircuitBreaker("unsplash", breakerCfg),
		logger:     logger,
	}
}

// Search GET /search/photos
func (c *Client) Search(ctx context.Context, query string, page, perPage int) (*SearchResult, error) {
	if c.accessKey == "" {
		return nil, ErrNotConfigured
	}

	var out *SearchResult
	err := c.breaker.Execute(func() error {
		var callErr error
		out, callErr = c.search(ctx, query, page, perPage)
		return callErr
	})
	if err != nil {
		c.logger.Warn("Unsplash search failed",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, query string, page, perPage int) (*SearchResult, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("Accept-Version", "v1")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordExternalCall("unsplash", "error", time.Since(start))
		return nil, fmt.Errorf("unsplash request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordExternalCall("unsplash", strconv.Itoa(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &SearchResult{
		Total:      parsed.Total,
		TotalPages: parsed.TotalPages,
		Images:     make([]Image, 0, len(parsed.Results)),
	}
	for _, r := range parsed.Results {
		desc := r.Description
		if desc == "" {
			desc = r.AltDescription
		}
		out.Images = append(out.Images, Image{
			ID:               r.ID,
			Description:      desc,
			ThumbURL:         r.URLs.Thumb,
			RegularURL:       r.URLs.Regular,
			AuthorName:       r.User.Name,
			AuthorURL:        r.User.Links.HTML,
			DownloadLocation: r.Links.DownloadLocation,
		})
	}
	return out, nil
}
