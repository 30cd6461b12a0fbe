package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/internal/integration/unsplash"
	"baydigital/pkg/rbac"
)

type fakeImages struct {
	calls int
	err   error
}

func (f *fakeImages) Search(ctx context.Context, query string, page, perPage int) (*unsplash.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &unsplash.SearchResult{Total: 1, TotalPages: 1, Images: []unsplash.Image{{ID: "abc", Description: query}}}, nil
}

func TestImageSearchCaches(t *testing.T) {
	mr, rdb := newTestRedis(t)
	searcher := &fakeImages{}
	svc := NewImageService(searcher, rdb, zap.NewNop())

	res, err := svc.Search(context.Background(), "Coffee Shop", 1, 12)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Images[0].ID)

	res, err = svc.Search(context.Background(), "coffee shop", 1, 12)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, searcher.calls)
	assert.True(t, mr.Exists("images:search:coffee+shop:1:12"))

	// 缓存不可用时直接查询
	mr.Close()
	_, err = svc.Search(context.Background(), "bakery", 1, 12)
	require.NoError(t, err)
	assert.Equal(t, 2, searcher.calls)
}

func TestImageSearchValidationAndUpstream(t *testing.T) {
	searcher := &fakeImages{}
	svc := NewImageService(searcher, nil, zap.NewNop())

	var verr *ValidationError
	_, err := svc.Search(context.Background(), " ", 1, 10)
	assert.ErrorAs(t, err, &verr)
	_, err = svc.Search(context.Background(), "cats", 0, 10)
	assert.ErrorAs(t, err, &verr)
	_, err = svc.Search(context.Background(), "cats", 1, 31)
	assert.ErrorAs(t, err, &verr)

	searcher.err = errors.New("rate limited")
	_, err = svc.Search(context.Background(), "cats", 1, 10)
	var up *UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "unsplash", up.Provider)
}

func TestImageSearchWithoutKeyIsUnavailable(t *testing.T) {
	svc := NewImageService(&fakeImages{err: unsplash.ErrNotConfigured}, nil, zap.NewNop())

	_, err := svc.Search(context.Background(), "cats", 1, 10)
	assert.ErrorIs(t, err, ErrUnavailable)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUploadStoresUnderTenantPrefix(t *testing.T) {
	store := newFakeObjectStore()
	svc := NewUploadService(store, zap.NewNop())
	actor := Actor{UserID: 10, TenantID: 7, Role: rbac.RoleClient}

	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 600)...)
	res, err := svc.Upload(context.Background(), actor, "logo.PNG", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Key, "tenants/7/"))
	assert.True(t, strings.HasSuffix(res.Key, ".png"))
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, body, store.objects[res.Key])
	assert.Contains(t, res.URL, res.Key)
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	svc := NewUploadService(newFakeObjectStore(), zap.NewNop())
	actor := Actor{UserID: 10, TenantID: 7, Role: rbac.RoleClient}

	script := []byte("#!/bin/sh\necho hi\n")
	_, err := svc.Upload(context.Background(), actor, "logo.png", int64(len(script)), bytes.NewReader(script))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file", verr.Field)

	_, err = svc.Upload(context.Background(), actor, "big.pdf", MaxUploadSize+1, bytes.NewReader([]byte("%PDF-1.7")))
	assert.ErrorAs(t, err, &verr)
}

func TestUploadURLScopedToTenant(t *testing.T) {
	svc := NewUploadService(newFakeObjectStore(), zap.NewNop())
	actor := Actor{UserID: 10, TenantID: 7, Role: rbac.RoleClient}

	url, err := svc.URL(context.Background(), actor, "tenants/7/a.png")
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	_, err = svc.URL(context.Background(), actor, "tenants/8/a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.URL(context.Background(), actor, "tenants/7/../8/a.png")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.URL(context.Background(), Actor{UserID: 1, Role: rbac.RoleAdmin}, "tenants/8/a.png")
	assert.NoError(t, err)
}
