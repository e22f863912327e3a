package v1

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/supportdesk/ai/pipeline"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
	chatmetrics "github.com/hrygo/supportdesk/plugin/chat_apps/metrics"
)

// sendRetryDelay is the pause before the single delivery retry.
var sendRetryDelay = 500 * time.Millisecond

// HandleWebhook accepts a chat platform delivery. The signature is checked before anything
// is parsed or stored; accepted messages are answered asynchronously.
func (s *APIV1Service) HandleWebhook(c echo.Context) error {
	platform := chat_apps.Platform(c.Param("platform"))
	if platform == "" {
		platform = chat_apps.PlatformLINE
	}
	if !platform.IsValid() || platform == chat_apps.PlatformWeb {
		return c.String(http.StatusNotFound, "unknown platform")
	}
	if s.chatChannelRouter.GetChannel(platform) == nil {
		slog.Warn("no channel registered for platform", "platform", platform)
		return c.String(http.StatusNotFound, "platform not configured")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "failed to read body")
	}
	s.WebhookHealth.RecordEvent(string(platform), chatmetrics.EventWebhookReceived, 0, nil)

	headers := make(map[string]string, len(c.Request().Header))
	for k := range c.Request().Header {
		headers[k] = c.Request().Header.Get(k)
	}

	msgs, err := s.chatChannelRouter.HandleWebhook(c.Request().Context(), platform, headers, body)
	switch {
	case errors.Is(err, channels.ErrInvalidSignature):
		s.Metrics.RecordWebhookRejection(string(platform), "signature")
		s.WebhookHealth.RecordEvent(string(platform), chatmetrics.EventWebhookRejected, 0, err)
		slog.Warn("webhook validation failed", "platform", platform, "remote_addr", c.RealIP())
		return c.String(http.StatusBadRequest, "invalid signature")
	case err != nil:
		s.Metrics.RecordWebhookRejection(string(platform), "payload")
		s.WebhookHealth.RecordEvent(string(platform), chatmetrics.EventWebhookParseError, 0, err)
		slog.Warn("failed to parse webhook message", "platform", platform, "error", err)
		return c.String(http.StatusBadRequest, "invalid payload")
	}
	s.WebhookHealth.RecordEvent(string(platform), chatmetrics.EventWebhookValidated, 0, nil)

	for _, msg := range msgs {
		s.inflight.Add(1)
		s.dispatch(func() {
			defer s.inflight.Done()
			s.processChatAppMessage(msg, time.Now())
		})
	}

	return c.String(http.StatusOK, "OK")
}

// processChatAppMessage answers one platform message and delivers the reply. It runs after
// the webhook has been acknowledged, so it does not inherit the request context.
func (s *APIV1Service) processChatAppMessage(msg *chat_apps.IncomingMessage, startTime time.Time) {
	ctx := context.Background()
	platform := string(msg.Platform)
	logger := slog.With("platform", platform, "platform_chat_id", msg.PlatformChatID)

	var text string
	result, err := s.Pipeline.Process(ctx, &pipeline.Request{
		ConversationID: msg.ConversationID(),
		Platform:       platform,
		Text:           msg.Content,
	})
	if err != nil {
		logger.Warn("failed to answer chat app message", "error", err)
		text = s.Pipeline.ReplyFor(err)
	} else {
		text = result.Text
	}
	s.WebhookHealth.RecordEvent(platform, chatmetrics.EventMessageProcessed, time.Since(startTime), nil)

	err = s.sendWithRetry(ctx, msg.Platform, &chat_apps.OutgoingMessage{
		PlatformChatID: msg.PlatformChatID,
		ReplyToken:     msg.ReplyToken,
		Type:           chat_apps.MessageTypeText,
		Content:        text,
	})
	if err != nil {
		logger.Error("failed to send response to chat platform", "error", err)
		s.WebhookHealth.RecordEvent(platform, chatmetrics.EventResponseError, time.Since(startTime), err)
		return
	}
	s.WebhookHealth.RecordEvent(platform, chatmetrics.EventResponseSent, time.Since(startTime), nil)
	logger.Info("response sent to chat platform")
}

// sendWithRetry delivers out, retrying once after sendRetryDelay when the platform
// error is transient.
func (s *APIV1Service) sendWithRetry(ctx context.Context, platform chat_apps.Platform, out *chat_apps.OutgoingMessage) error {
	err := s.chatChannelRouter.SendResponse(ctx, platform, out)
	var chErr *channels.ChannelError
	if err == nil || !errors.As(err, &chErr) || !chErr.IsRetryable() {
		return err
	}
	slog.Warn("retrying chat platform delivery", "platform", platform, "error", err)
	select {
	case <-ctx.Done():
		return err
	case <-time.After(sendRetryDelay):
	}
	return s.chatChannelRouter.SendResponse(ctx, platform, out)
}
