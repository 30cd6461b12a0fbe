package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/service"
)

func formRouter(svc *mockFormService) *gin.Engine {
	h := NewFormHandler(svc, zap.NewNop())
	r := gin.New()
	r.POST("/public/forms/:site_key", h.Submit)
	g := r.Group("/forms/submissions", withActor(10, 7, "client"))
	g.GET("", h.List)
	g.PATCH("/:id", h.UpdateStatus)
	return r
}

func TestSubmitJSONAccepted(t *testing.T) {
	var gotKey string
	var gotIn service.FormInput
	r := formRouter(&mockFormService{
		SubmitFunc: func(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error) {
			gotKey, gotIn = siteKey, in
			return true, nil
		},
	})

	w := doRequest(r, http.MethodPost, "/public/forms/site_abc",
		`{"form_name":"contact","name":"Ana","email":"ana@example.com","message":"Hi"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "site_abc", gotKey)
	assert.Equal(t, "ana@example.com", gotIn.Email)
	assert.Contains(t, w.Body.String(), "received")
}

func TestSubmitURLEncoded(t *testing.T) {
	var gotIn service.FormInput
	r := formRouter(&mockFormService{
		SubmitFunc: func(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error) {
			gotIn = in
			return true, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/public/forms/site_abc",
		strings.NewReader("form_name=quote&name=Bo&email=bo%40example.com&message=Need+a+site&website="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "quote", gotIn.FormName)
	assert.Equal(t, "bo@example.com", gotIn.Email)
}

func TestSubmitHoneypotLooksAccepted(t *testing.T) {
	r := formRouter(&mockFormService{
		SubmitFunc: func(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error) {
			return false, nil
		},
	})
	w := doRequest(r, http.MethodPost, "/public/forms/site_abc", `{"website":"http://spam"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	r := formRouter(&mockFormService{
		SubmitFunc: func(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error) {
			return false, service.ErrRateLimited
		},
	})
	w := doRequest(r, http.MethodPost, "/public/forms/site_abc", `{"name":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestUpdateSubmissionStatus(t *testing.T) {
	var gotStatus string
	r := formRouter(&mockFormService{
		UpdateStatusFunc: func(ctx context.Context, actor service.Actor, id int64, status string) (*model.FormSubmission, error) {
			gotStatus = status
			return &model.FormSubmission{ID: id, Status: status}, nil
		},
	})

	w := doRequest(r, http.MethodPatch, "/forms/submissions/4", `{"status":"archived"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "archived", gotStatus)

	w = doRequest(r, http.MethodPatch, "/forms/submissions/4", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
