// Package chat_apps provides the messaging-platform types shared by webhook channels.
// Supported platforms: LINE and Telegram over webhooks, plus the built-in web chat.
package chat_apps

import "time"

// MessageType represents the type of message.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeUnsupported
)

// String returns the string representation of MessageType.
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "text"
	default:
		return "unsupported"
	}
}

// Platform represents a supported chat platform.
type Platform string

const (
	PlatformLINE     Platform = "line"
	PlatformTelegram Platform = "telegram"
	PlatformWeb      Platform = "web"
)

// IsValid checks if the platform is valid.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformLINE, PlatformTelegram, PlatformWeb:
		return true
	default:
		return false
	}
}

// IncomingMessage represents a message from a chat platform.
type IncomingMessage struct {
	Platform       Platform          // Source platform
	PlatformUserID string            // Platform-specific user ID
	PlatformChatID string            // Platform-specific chat ID (user, group or room)
	ReplyToken     string            // One-shot reply token, LINE only
	Type           MessageType       // Message type
	Content        string            // Text content
	Metadata       map[string]string // Additional platform-specific metadata
	Timestamp      time.Time         // Message timestamp
}

// ConversationID scopes history per platform chat.
func (m *IncomingMessage) ConversationID() string {
	return string(m.Platform) + ":" + m.PlatformChatID
}

// OutgoingMessage represents a message to send to a chat platform.
type OutgoingMessage struct {
	PlatformChatID string      // Destination chat ID
	ReplyToken     string      // Reply token when the platform supports replies
	Type           MessageType // Message type
	Content        string      // Text content
}
