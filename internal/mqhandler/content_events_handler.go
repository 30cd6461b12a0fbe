package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/pkg/logger"
	"baydigital/pkg/util"
)

// SocialPostPublishedHandler social_post.published：通知客户并提醒员工去各平台发布
type SocialPostPublishedHandler struct {
	notifier *Notifier
	alerter  StaffAlerter
	deduper  *util.Deduper
	retry    retryPolicy
	logger   *zap.Logger
}

func NewSocialPostPublishedHandler(notifier *Notifier, alerter StaffAlerter, deduper *util.Deduper, retryCounter *util.RetryCounter, logger *zap.Logger) *SocialPostPublishedHandler {
	return &SocialPostPublishedHandler{
		notifier: notifier,
		alerter:  alerter,
		deduper:  deduper,
		retry:    retryPolicy{counter: retryCounter, logger: logger},
		logger:   logger,
	}
}

func (h *SocialPostPublishedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.SocialPostPublishedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "social_post:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("post_id", p.PostID),
		zap.Int64("tenant_id", p.TenantID),
	)
	log.Info("Handling social_post.published")

	retryKey := util.FormatRetryKey("social_post", p.PostID)
	id := strconv.FormatInt(p.PostID, 10)
	err := h.notifier.Deliver(ctx, mqcontracts.NotificationCreatedPayload{
		TenantID: p.TenantID,
		Type:     "social.published",
		Title:    "Post published",
		Body:     fmt.Sprintf("Your scheduled post went out on %s: %s", strings.Join(p.Platforms, ", "), p.Preview),
		Link:     "/social/posts/" + id,
		DedupKey: "social_post:" + id,
	})
	if err != nil {
		return h.retry.fail(ctx, retryKey, err)
	}

	if h.alerter != nil && (h.deduper == nil || h.deduper.AcquireOnce(ctx, "alert:social_post", id)) {
		text := fmt.Sprintf("Post #%d for tenant %d is due on %s:\n%s", p.PostID, p.TenantID, strings.Join(p.Platforms, ", "), p.Preview)
		if err := h.alerter.Alert(ctx, text); err != nil {
			log.Warn("Failed to send staff alert", zap.Error(err))
			if h.deduper != nil {
				h.deduper.Release(ctx, "alert:social_post", id)
			}
		}
	}

	h.retry.done(ctx, retryKey)
	return nil
}

// FormSubmittedHandler form.submitted：通知租户（含邮件）
type FormSubmittedHandler struct {
	notifier *Notifier
	retry    retryPolicy
	logger   *zap.Logger
}

func NewFormSubmittedHandler(notifier *Notifier, retryCounter *util.RetryCounter, logger *zap.Logger) *FormSubmittedHandler {
	return &FormSubmittedHandler{
		notifier: notifier,
		retry:    retryPolicy{counter: retryCounter, logger: logger},
		logger:   logger,
	}
}

func (h *FormSubmittedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.FormSubmittedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "form:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	logger.WithTrace(ctx, h.logger).Info("Handling form.submitted",
		zap.Int64("submission_id", p.SubmissionID),
		zap.Int64("tenant_id", p.TenantID),
		zap.String("form_name", p.FormName),
	)

	retryKey := util.FormatRetryKey("form", p.SubmissionID)
	name := p.Name
	if name == "" {
		name = p.Email
	}
	err := h.notifier.Deliver(ctx, mqcontracts.NotificationCreatedPayload{
		TenantID: p.TenantID,
		Type:     "form.submitted",
		Title:    "New " + p.FormName + " submission",
		Body:     fmt.Sprintf("%s <%s> sent a message through your website.", name, p.Email),
		Link:     "/forms/submissions",
		DedupKey: "form:" + strconv.FormatInt(p.SubmissionID, 10),
		Email:    true,
		TraceID:  p.TraceID,
	})
	if err != nil {
		return h.retry.fail(ctx, retryKey, err)
	}

	h.retry.done(ctx, retryKey)
	return nil
}
