// Package channels provides the ChatChannel interface for webhook chat platforms.
package channels

import (
	"context"
	"io"
	"sync"

	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
)

// ChatChannel defines the interface for all chat platform integrations.
type ChatChannel interface {
	// Name returns the platform name (e.g., "line", "telegram").
	Name() chat_apps.Platform

	// ValidateWebhook verifies the incoming webhook request against the raw body.
	// It must fail closed: a missing header is an invalid signature.
	ValidateWebhook(ctx context.Context, headers map[string]string, body []byte) error

	// ParseMessages parses the webhook payload. Deliveries may batch several events;
	// events that carry no text are skipped.
	ParseMessages(ctx context.Context, payload []byte) ([]*chat_apps.IncomingMessage, error)

	// SendMessage sends a single message to the chat platform.
	SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) error

	// Close closes any open connections and releases resources.
	Close() error
}

// ChannelRouter routes incoming webhooks to the registered channel.
// Concurrent-safe for Register and GetChannel operations.
type ChannelRouter struct {
	mu       sync.RWMutex
	registry map[chat_apps.Platform]ChatChannel
}

// NewChannelRouter creates a new channel router.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{
		registry: make(map[chat_apps.Platform]ChatChannel),
	}
}

// Register registers a chat channel for a platform.
func (r *ChannelRouter) Register(channel ChatChannel) {
	r.mu.Lock()
	r.registry[channel.Name()] = channel
	r.mu.Unlock()
}

// GetChannel returns the channel for a platform, or nil if not registered.
func (r *ChannelRouter) GetChannel(platform chat_apps.Platform) ChatChannel {
	r.mu.RLock()
	ch := r.registry[platform]
	r.mu.RUnlock()
	return ch
}

// Platforms lists the registered platforms.
func (r *ChannelRouter) Platforms() []chat_apps.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat_apps.Platform, 0, len(r.registry))
	for p := range r.registry {
		out = append(out, p)
	}
	return out
}

// HandleWebhook validates the signature, then parses the payload.
// Nothing is parsed when validation fails.
func (r *ChannelRouter) HandleWebhook(ctx context.Context, platform chat_apps.Platform, headers map[string]string, body []byte) ([]*chat_apps.IncomingMessage, error) {
	channel := r.GetChannel(platform)
	if channel == nil {
		return nil, ErrNoChannelForPlatform
	}

	if err := channel.ValidateWebhook(ctx, headers, body); err != nil {
		return nil, err
	}

	return channel.ParseMessages(ctx, body)
}

// SendResponse sends a single response message to a chat platform.
func (r *ChannelRouter) SendResponse(ctx context.Context, platform chat_apps.Platform, msg *chat_apps.OutgoingMessage) error {
	channel := r.GetChannel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}

	return channel.SendMessage(ctx, msg)
}

// Errors
var (
	ErrNoChannelForPlatform = &ChannelError{Code: "NO_CHANNEL", Message: "no channel registered for platform"}
	ErrInvalidSignature     = &ChannelError{Code: "INVALID_SIGNATURE", Message: "webhook signature validation failed", Err: apperr.ErrAuth}
	ErrInvalidPayload       = &ChannelError{Code: "INVALID_PAYLOAD", Message: "could not parse webhook payload"}
	ErrSendFailed           = &ChannelError{Code: "SEND_FAILED", Message: "failed to deliver message"}
)

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is matches channel errors by code, so wrapped variants still compare equal
// to the package sentinels.
func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	return ok && t.Code == e.Code
}

// IsRetryable returns true if the error is transient and the operation can be retried.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "NO_CHANNEL", "INVALID_SIGNATURE", "INVALID_PAYLOAD":
		return false
	default:
		return true
	}
}

// NewError returns a copy of base that wraps err.
func NewError(base *ChannelError, err error) *ChannelError {
	return &ChannelError{Code: base.Code, Message: base.Message, Err: err}
}

// io.Closer interface for cleanup
var _ io.Closer = (*ChannelRouter)(nil)

// Close closes all registered channels.
func (r *ChannelRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, channel := range r.registry {
		if err := channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
