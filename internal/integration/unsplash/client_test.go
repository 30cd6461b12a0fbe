package unsplash

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/pkg/config"
)

const sampleResponse = `{
  "total": 133,
  "total_pages": 14,
  "results": [
    {
      "id": "eOLpJytrbsQ",
      "description": null,
      "alt_description": "fresh loaves on a counter",
      "urls": {"thumb": "https://images.example/thumb.jpg", "regular": "https://images.example/regular.jpg"},
      "user": {"name": "Jane Baker", "links": {"html": "https://unsplash.com/@jane"}},
      "links": {"download_location": "https://api.unsplash.com/photos/eOLpJytrbsQ/download"}
    }
  ]
}`

func TestSearchNormalizesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/photos", r.URL.Path)
		assert.Equal(t, "bakery", r.URL.Query().Get("query"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Client-ID key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := NewClient(config.UnsplashConfig{BaseURL: srv.URL, AccessKey: "key"}, zap.NewNop())
	res, err := c.Search(context.Background(), "bakery", 2, 10)
	require.NoError(t, err)

	assert.Equal(t, 133, res.Total)
	assert.Equal(t, 14, res.TotalPages)
	require.Len(t, res.Images, 1)
	img := res.Images[0]
	assert.Equal(t, "eOLpJytrbsQ", img.ID)
	assert.Equal(t, "fresh loaves on a counter", img.Description)
	assert.Equal(t, "https://images.example/thumb.jpg", img.ThumbURL)
	assert.Equal(t, "Jane Baker", img.AuthorName)
	assert.Equal(t, "https://unsplash.com/@jane", img.AuthorURL)
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Rate Limit Exceeded"))
	}))
	defer srv.Close()

	c := NewClient(config.UnsplashConfig{BaseURL: srv.URL, AccessKey: "key"}, zap.NewNop())
	_, err := c.Search(context.Background(), "bakery", 1, 10)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
}

func TestSearchWithoutKey(t *testing.T) {
	c := NewClient(config.UnsplashConfig{}, zap.NewNop())
	_, err := c.Search(context.Background(), "bakery", 1, 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
