package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"baydigital/internal/model"
	"baydigital/internal/service"
)

type FormService interface {
	Submit(ctx context.Context, siteKey, ip string, in service.FormInput) (bool, error)
	List(ctx context.Context, actor service.Actor, status string, limit, offset int) ([]model.FormSubmission, error)
	UpdateStatus(ctx context.Context, actor service.Actor, id int64, status string) (*model.FormSubmission, error)
}

type FormHandler struct {
	forms  FormService
	logger *zap.Logger
}

func NewFormHandler(forms FormService, logger *zap.Logger) *FormHandler {
	return &FormHandler{forms: forms, logger: logger}
}

// Submit POST /public/forms/:site_key
// 被蜜罐拦截的提交同样返回 202
func (h *FormHandler) Submit(c *gin.Context) {
	var req struct {
		FormName string `json:"form_name" form:"form_name"`
		Name     string `json:"name" form:"name"`
		Email    string `json:"email" form:"email"`
		Phone    string `json:"phone" form:"phone"`
		Message  string `json:"message" form:"message"`
		Website  string `json:"website" form:"website"`
	}
	// 网站表单可能直接 POST urlencoded，ShouldBind 按 Content-Type 选择解码器
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	_, err := h.forms.Submit(c.Request.Context(), c.Param("site_key"), c.ClientIP(), service.FormInput{
		FormName: req.FormName,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Message:  req.Message,
		Website:  req.Website,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "received"})
}

// List GET /forms/submissions?status=
func (h *FormHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	list, err := h.forms.List(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": list})
}

// UpdateStatus PATCH /forms/submissions/:id
func (h *FormHandler) UpdateStatus(c *gin.Context) {
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
	sub, err := h.forms.UpdateStatus(c.Request.Context(), actor, id, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
