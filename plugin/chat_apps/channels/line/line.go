// Package line implements the LINE Messaging API channel.
package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/supportdesk/internal/strutil"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels"
)

const (
	SignatureHeader   = "X-Line-Signature"
	DefaultAPIBaseURL = "https://api.line.me"
	MaxTextLength     = 5000 // runes per text message
)

// Config holds configuration for the LINE channel.
type Config struct {
	ChannelSecret      string
	ChannelAccessToken string
	APIBaseURL         string // overridable for tests
}

// Channel implements ChatChannel for the LINE Messaging API.
type Channel struct {
	config *Config
	client *http.Client
}

// NewChannel creates a new LINE channel.
func NewChannel(config *Config) (*Channel, error) {
	if config == nil || config.ChannelSecret == "" {
		return nil, errors.New("line: channel secret is required")
	}
	cfg := *config
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &Channel{
		config: &cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name returns the platform name.
func (c *Channel) Name() chat_apps.Platform {
	return chat_apps.PlatformLINE
}

// Sign computes the signature LINE sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ValidateWebhook checks X-Line-Signature against the raw body.
func (c *Channel) ValidateWebhook(_ context.Context, headers map[string]string, body []byte) error {
	if !VerifySignature(c.config.ChannelSecret, body, headerValue(headers, SignatureHeader)) {
		slog.Warn("line: webhook signature mismatch")
		return channels.ErrInvalidSignature
	}
	return nil
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

type event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"`
	Source     struct {
		Type    string `json:"type"`
		UserID  string `json:"userId"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
	} `json:"source"`
	Message *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// ParseMessages extracts text messages from a webhook delivery.
func (c *Channel) ParseMessages(_ context.Context, payload []byte) ([]*chat_apps.IncomingMessage, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		slog.Warn("line: failed to parse webhook payload", "error", err)
		return nil, channels.NewError(channels.ErrInvalidPayload, err)
	}

	msgs := make([]*chat_apps.IncomingMessage, 0, len(body.Events))
	for _, ev := range body.Events {
		if ev.Type != "message" || ev.Message == nil || ev.Message.Type != "text" {
			slog.Debug("line: skipping event", "type", ev.Type)
			continue
		}
		chatID := ev.Source.UserID
		switch {
		case ev.Source.GroupID != "":
			chatID = ev.Source.GroupID
		case ev.Source.RoomID != "":
			chatID = ev.Source.RoomID
		}
		if chatID == "" {
			continue
		}
		ts := time.Now()
		if ev.Timestamp > 0 {
			ts = time.UnixMilli(ev.Timestamp)
		}
		msgs = append(msgs, &chat_apps.IncomingMessage{
			Platform:       chat_apps.PlatformLINE,
			PlatformUserID: ev.Source.UserID,
			PlatformChatID: chatID,
			ReplyToken:     ev.ReplyToken,
			Type:           chat_apps.MessageTypeText,
			Content:        ev.Message.Text,
			Metadata: map[string]string{
				"source_type": ev.Source.Type,
				"message_id":  ev.Message.ID,
				"destination": body.Destination,
			},
			Timestamp: ts,
		})
	}
	return msgs, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendRequest struct {
	ReplyToken string        `json:"replyToken,omitempty"`
	To         string        `json:"to,omitempty"`
	Messages   []textMessage `json:"messages"`
}

// SendMessage replies with the token when there is one, otherwise pushes to the chat.
func (c *Channel) SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) error {
	req := sendRequest{Messages: []textMessage{{Type: "text", Text: strutil.Clip(msg.Content, MaxTextLength)}}}
	endpoint := c.config.APIBaseURL + "/v2/bot/message/reply"
	if msg.ReplyToken != "" {
		req.ReplyToken = msg.ReplyToken
	} else {
		if msg.PlatformChatID == "" {
			return channels.NewError(channels.ErrSendFailed, errors.New("no reply token or chat id"))
		}
		req.To = msg.PlatformChatID
		endpoint = c.config.APIBaseURL + "/v2/bot/message/push"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal LINE message")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create LINE request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.ChannelAccessToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return channels.NewError(channels.ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("line: send failed", "status", resp.StatusCode, "body", strutil.Truncate(string(b), 200))
		return channels.NewError(channels.ErrSendFailed, fmt.Errorf("status code: %d", resp.StatusCode))
	}
	slog.Debug("line: message sent", "chat_id", msg.PlatformChatID, "reply", msg.ReplyToken != "")
	return nil
}

// Close releases idle connections.
func (c *Channel) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var _ channels.ChatChannel = (*Channel)(nil)
