// Package answer turns a grounded prompt into a classified answer. It never returns an
// error: provider failures become KindUnavailable.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/supportdesk/ai/core/llm"
	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/ai/metrics"
	"github.com/hrygo/supportdesk/internal/apperr"
)

// Kind classifies how an answer was produced.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindRefused     Kind = "refused"
	KindUnavailable Kind = "unavailable"
)

// Answer is the engine result. Text is always non-empty.
type Answer struct {
	Kind Kind
	Text string
}

// DefaultTimeout bounds one model call.
const DefaultTimeout = 30 * time.Second

// Engine calls the model with a bounded timeout and normalizes the outcome.
type Engine struct {
	llm      llm.Service
	timeout  time.Duration
	messages knowledge.Messages
	metrics  *metrics.PrometheusExporter
}

// NewEngine creates an Engine. A non-positive timeout selects DefaultTimeout.
func NewEngine(service llm.Service, timeout time.Duration, messages knowledge.Messages, exporter *metrics.PrometheusExporter) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		llm:      service,
		timeout:  timeout,
		messages: messages,
		metrics:  exporter,
	}
}

// Answer sends prompt to the model. Errors and timeouts are logged and reported as
// KindUnavailable; an empty or blocked reply is KindRefused, as is a reply that carries
// the refusal text.
func (e *Engine) Answer(ctx context.Context, prompt string) Answer {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	content, stats, err := e.llm.Chat(ctx, []llm.Message{llm.UserMessage(prompt)})
	latency := time.Since(start)
	provider := e.llm.Provider()

	if err != nil {
		errType := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errType = "timeout"
		}
		e.metrics.RecordLLMCall(provider, latency, errType)
		slog.Error("answer: model call failed",
			"provider", provider,
			"error_type", errType,
			"error", apperr.Provider(err, "chat"),
			"duration_ms", latency.Milliseconds(),
		)
		return Answer{Kind: KindUnavailable, Text: e.messages.Unavailable}
	}

	e.metrics.RecordLLMCall(provider, latency, "")
	if stats != nil {
		e.metrics.RecordLLMTokens(provider, stats.PromptTokens, stats.CompletionTokens)
	}

	text := strings.TrimSpace(content)
	if text == "" {
		slog.Warn("answer: model returned no content", "provider", provider)
		return Answer{Kind: KindRefused, Text: e.messages.Refusal}
	}
	if e.IsRefusal(text) {
		return Answer{Kind: KindRefused, Text: text}
	}
	return Answer{Kind: KindSuccess, Text: text}
}

// IsRefusal reports whether text carries the configured refusal string.
func (e *Engine) IsRefusal(text string) bool {
	return e.messages.Refusal != "" && strings.Contains(text, e.messages.Refusal)
}
