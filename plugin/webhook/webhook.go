package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// timeout is the timeout for webhook request. Default to 30 seconds.
	timeout = 30 * time.Second
)

// EscalationPayload tells operators that a conversation needs a human.
type EscalationPayload struct {
	EventID        string `json:"eventId"`
	ConversationID string `json:"conversationId"`
	Platform       string `json:"platform"`
	Question       string `json:"question"`
	Reason         string `json:"reason"`
	CreatedTs      int64  `json:"createdTs"`
}

// NewEscalationPayload fills EventID and CreatedTs.
func NewEscalationPayload(conversationID, platform, question, reason string) *EscalationPayload {
	return &EscalationPayload{
		EventID:        uuid.NewString(),
		ConversationID: conversationID,
		Platform:       platform,
		Question:       question,
		Reason:         reason,
		CreatedTs:      time.Now().UnixMilli(),
	}
}

// Post posts the payload to the webhook endpoint. Any 2xx status is success.
func Post(ctx context.Context, client *http.Client, url string, payload *EscalationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", url)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", payload.EventID)

	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", url)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", url, resp.StatusCode, b)
	}
	return nil
}

// Notifier delivers escalation events to one operator endpoint.
type Notifier struct {
	url    string
	client *http.Client
	wg     sync.WaitGroup
}

// NewNotifier returns nil when url is empty, and a nil *Notifier ignores notifications.
func NewNotifier(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{url: url, client: &http.Client{Timeout: timeout}}
}

// NotifyAsync posts the payload in a new goroutine and only logs failures.
func (n *Notifier) NotifyAsync(payload *EscalationPayload) {
	if n == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := Post(ctx, n.client, n.url, payload); err != nil {
			// Since we're in a goroutine, we can only log the error
			slog.Warn("Failed to dispatch escalation webhook asynchronously",
				slog.String("url", n.url),
				slog.String("conversation_id", payload.ConversationID),
				slog.Any("err", err))
		}
	}()
}

// Wait blocks until every pending notification has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
