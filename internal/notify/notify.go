// Package notify posts pipeline run summaries to a Telegram chat through the
// Bot API.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

// Telegram limits a text message to 4096 characters.
const maxMessageLen = 4096

type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewBot returns nil when no bot token or chat is configured.
func NewBot(cfg config.NotifyConfig, logger *zap.Logger) (*Bot, error) {
	return newBot(cfg, tgbotapi.APIEndpoint, logger)
}

func newBot(cfg config.NotifyConfig, endpoint string, logger *zap.Logger) (*Bot, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		logger.Info("Run notifications are disabled (notify.bot_token or notify.chat_id is empty)")
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Notification bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{api: api, chatID: cfg.ChatID, logger: logger}, nil
}

// Notify sends text to the configured chat, truncated to the message limit.
// A nil Bot does nothing.
func (b *Bot) Notify(ctx context.Context, text string) error {
	if b == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen-1]) + "…"
	}

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send run notification", zap.Int64("chat_id", b.chatID), zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
