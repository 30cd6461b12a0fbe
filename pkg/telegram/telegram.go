package telegram

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"baydigital/pkg/config"
	"baydigital/pkg/metrics"
)

// Client 发送消息的最小接口，便于测试替换
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}

// TelebotAdapter implements Client using gopkg.in/telebot.v3.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified chat.
func (a *TelebotAdapter) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	_, err := a.bot.Send(&telebot.Chat{ID: recipientChatID}, text, options)
	return err
}

// NewBot 只用于发送，不启动 poller
func NewBot(cfg config.TelegramConfig) (*telebot.Bot, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token: cfg.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// StaffAlerter 向员工群发送告警（新工单、支付失败、帖子发布）
type StaffAlerter struct {
	client Client
	chatID int64
	logger *zap.Logger
}

// NewStaffAlerter client 为 nil 或 chatID 为 0 时告警只写日志
func NewStaffAlerter(client Client, chatID int64, logger *zap.Logger) *StaffAlerter {
	return &StaffAlerter{client: client, chatID: chatID, logger: logger}
}

func (a *StaffAlerter) Enabled() bool {
	return a.client != nil && a.chatID != 0
}

// Alert 发送纯文本告警
func (a *StaffAlerter) Alert(ctx context.Context, text string) error {
	if !a.Enabled() {
		a.logger.Info("Staff alert (telegram disabled)", zap.String("text", text))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := a.client.SendMessage(a.chatID, text, &telebot.SendOptions{DisableWebPagePreview: true})
	metrics.RecordExternalCall("telegram", statusLabel(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to send staff alert: %w", err)
	}
	return nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
