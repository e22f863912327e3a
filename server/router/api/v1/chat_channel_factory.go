package v1

import (
	"log/slog"

	"github.com/hrygo/supportdesk/internal/profile"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels/line"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels/telegram"
)

// NewChannelRouter registers a channel for every platform the profile has credentials for.
// A channel that fails to start is logged and left out; startup continues.
func NewChannelRouter(p *profile.Profile) *channels.ChannelRouter {
	router := channels.NewChannelRouter()

	if p.IsLINEEnabled() {
		if p.LINEChannelAccessToken == "" {
			slog.Warn("line: channel access token is empty, replies will be rejected by LINE")
		}
		ch, err := line.NewChannel(&line.Config{
			ChannelSecret:      p.LINEChannelSecret,
			ChannelAccessToken: p.LINEChannelAccessToken,
		})
		if err != nil {
			slog.Warn("failed to create channel", "platform", "line", "error", err)
		} else {
			router.Register(ch)
			slog.Info("channel registered", "platform", "line")
		}
	} else {
		slog.Warn("line: channel secret not set, /callback is disabled")
	}

	if p.IsTelegramEnabled() {
		ch, err := telegram.NewTelegramChannel(&telegram.TelegramConfig{
			BotToken:    p.TelegramBotToken,
			SecretToken: p.TelegramSecretToken,
		})
		if err != nil {
			slog.Warn("failed to create channel", "platform", "telegram", "error", err)
		} else {
			router.Register(ch)
			slog.Info("channel registered", "platform", "telegram")
		}
	}

	return router
}
