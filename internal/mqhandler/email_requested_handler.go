package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "baydigital/contracts/mq"
	"baydigital/pkg/logger"
	"baydigital/pkg/mailer"
	"baydigital/pkg/util"
)

const emailDedupScope = "email"

var errNoRecipients = errors.New("no recipients")

// EmailRequestedHandler email.requested：To 为空时发给租户全部用户
type EmailRequestedHandler struct {
	mail       MailSender
	recipients RecipientLookup
	deduper    *util.Deduper
	retry      retryPolicy
	logger     *zap.Logger
}

func NewEmailRequestedHandler(mail MailSender, recipients RecipientLookup, deduper *util.Deduper, retryCounter *util.RetryCounter, logger *zap.Logger) *EmailRequestedHandler {
	return &EmailRequestedHandler{
		mail:       mail,
		recipients: recipients,
		deduper:    deduper,
		retry:      retryPolicy{counter: retryCounter, logger: logger},
		logger:     logger,
	}
}

func (h *EmailRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.EmailRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.retry.fail(ctx, "email:bad_payload", fmt.Errorf("bad_payload: %w", err))
	}
	ctx = withPayloadTrace(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("tenant_id", p.TenantID),
		zap.String("dedup_key", p.DedupKey),
	)

	if !h.mail.IsConfigured() {
		log.Info("SMTP not configured, dropping email", zap.String("subject", p.Subject))
		return nil
	}
	if p.DedupKey != "" && h.deduper != nil && !h.deduper.AcquireOnce(ctx, emailDedupScope, p.DedupKey) {
		return nil
	}

	retryKey := util.FormatRetryKeyFor("email", p.DedupKey)
	if err := h.send(ctx, p); err != nil {
		if p.DedupKey != "" && h.deduper != nil {
			h.deduper.Release(ctx, emailDedupScope, p.DedupKey)
		}
		if errors.Is(err, errNoRecipients) {
			log.Info("Email has no recipients, skip")
			h.retry.done(ctx, retryKey)
			return nil
		}
		return h.retry.fail(ctx, retryKey, err)
	}

	log.Info("Email sent", zap.String("subject", p.Subject))
	h.retry.done(ctx, retryKey)
	return nil
}

func (h *EmailRequestedHandler) send(ctx context.Context, p mqcontracts.EmailRequestedPayload) error {
	to := p.To
	if len(to) == 0 && p.TenantID != 0 {
		emails, err := h.recipients.TenantEmails(ctx, p.TenantID)
		if err != nil {
			return err
		}
		to = emails
	}
	if len(to) == 0 {
		return errNoRecipients
	}
	return h.mail.Send(ctx, mailer.Message{To: to, Subject: p.Subject, Body: p.Body})
}
