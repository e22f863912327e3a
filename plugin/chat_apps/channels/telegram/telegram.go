// Package telegram implements the Telegram Bot channel.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/supportdesk/internal/strutil"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
)

const (
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	MaxTextLength     = 4096 // Telegram text message limit
)

// TelegramConfig holds configuration for the Telegram channel.
type TelegramConfig struct {
	BotToken    string
	SecretToken string // echoed back by Telegram on every webhook call
	APIEndpoint string // defaults to tgbotapi.APIEndpoint
}

// TelegramChannel implements ChatChannel for Telegram Bot API.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	config *TelegramConfig
}

// NewTelegramChannel creates a new Telegram channel. It calls getMe once to check the token.
func NewTelegramChannel(config *TelegramConfig) (*TelegramChannel, error) {
	if config == nil || config.BotToken == "" || config.SecretToken == "" {
		return nil, errors.New("telegram: bot token and secret token are required")
	}
	endpoint := config.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	slog.Info("telegram: bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		bot:    bot,
		config: config,
	}, nil
}

// Name returns the platform name.
func (t *TelegramChannel) Name() chat_apps.Platform {
	return chat_apps.PlatformTelegram
}

// ValidateWebhook compares the secret token header in constant time.
func (t *TelegramChannel) ValidateWebhook(_ context.Context, headers map[string]string, _ []byte) error {
	got := ""
	for k, v := range headers {
		if strings.EqualFold(k, SecretTokenHeader) {
			got = v
			break
		}
	}
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(t.config.SecretToken)) != 1 {
		slog.Warn("telegram: webhook secret token mismatch")
		return channels.ErrInvalidSignature
	}
	return nil
}

// ParseMessages parses one update. Only text from new or edited messages is returned.
func (t *TelegramChannel) ParseMessages(_ context.Context, payload []byte) ([]*chat_apps.IncomingMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		slog.Warn("telegram: failed to parse webhook payload", "error", err)
		return nil, channels.NewError(channels.ErrInvalidPayload, err)
	}

	var tgMsg *tgbotapi.Message
	switch {
	case update.Message != nil:
		tgMsg = update.Message
	case update.EditedMessage != nil:
		tgMsg = update.EditedMessage
	}
	if tgMsg == nil || tgMsg.Chat == nil || tgMsg.Text == "" {
		slog.Debug("telegram: skipping update", "update_id", update.UpdateID)
		return nil, nil
	}

	msg := &chat_apps.IncomingMessage{
		Platform:       chat_apps.PlatformTelegram,
		PlatformChatID: strconv.FormatInt(tgMsg.Chat.ID, 10),
		Type:           chat_apps.MessageTypeText,
		Content:        tgMsg.Text,
		Timestamp:      time.Now(),
		Metadata: map[string]string{
			"update_id": strconv.Itoa(update.UpdateID),
			"chat_type": tgMsg.Chat.Type,
		},
	}
	if tgMsg.Date > 0 {
		msg.Timestamp = time.Unix(int64(tgMsg.Date), 0)
	}
	if tgMsg.From != nil {
		msg.PlatformUserID = strconv.FormatInt(tgMsg.From.ID, 10)
		msg.Metadata["username"] = tgMsg.From.UserName
		msg.Metadata["language_code"] = tgMsg.From.LanguageCode
	}

	return []*chat_apps.IncomingMessage{msg}, nil
}

// SendMessage sends a text message to Telegram.
func (t *TelegramChannel) SendMessage(_ context.Context, msg *chat_apps.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(msg.PlatformChatID, 10, 64)
	if err != nil {
		slog.Error("telegram: invalid chat ID", "chat_id", msg.PlatformChatID, "error", err)
		return channels.NewError(channels.ErrSendFailed, fmt.Errorf("invalid chat ID: %w", err))
	}

	text := strutil.Clip(msg.Content, MaxTextLength)
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return channels.NewError(channels.ErrSendFailed, err)
	}
	slog.Debug("telegram: message sent", "chat_id", chatID)
	return nil
}

// SetWebhook registers webhookURL with Telegram along with the configured secret token.
func (t *TelegramChannel) SetWebhook(webhookURL string, dropPendingUpdates bool) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", webhookURL)
	params.AddNonEmpty("secret_token", t.config.SecretToken)
	params.AddBool("drop_pending_updates", dropPendingUpdates)
	params.AddNonEmpty("allowed_updates", `["message","edited_message"]`)

	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return errors.Wrap(err, "failed to set Telegram webhook")
	}
	return nil
}

// DeleteWebhook removes the webhook for the Telegram bot.
func (t *TelegramChannel) DeleteWebhook() error {
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true})
	return err
}

// Close closes the Telegram channel.
func (t *TelegramChannel) Close() error {
	return nil
}

// Ensure TelegramChannel implements ChatChannel
var _ channels.ChatChannel = (*TelegramChannel)(nil)
