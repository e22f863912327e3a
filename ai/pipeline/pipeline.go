// Package pipeline runs one question through history, prompt, model and escalation.
// Every channel adapter calls Process; nothing here knows about transports.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hrygo/supportdesk/ai/answer"
	"github.com/hrygo/supportdesk/ai/escalation"
	"github.com/hrygo/supportdesk/ai/filter"
	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/ai/metrics"
	"github.com/hrygo/supportdesk/ai/prompt"
	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/internal/strutil"
	"github.com/hrygo/supportdesk/plugin/webhook"
	"github.com/hrygo/supportdesk/store"
)

// Validation errors an adapter can map to specific canned replies.
var (
	ErrEmptyQuestion   = &apperr.Error{Kind: apperr.KindValidation, Message: "question is empty"}
	ErrQuestionTooLong = &apperr.Error{Kind: apperr.KindValidation, Message: "question is too long"}
	ErrNoConversation  = &apperr.Error{Kind: apperr.KindValidation, Message: "conversation id is empty"}
)

const (
	defaultHistoryWindow  = 10
	defaultMaxQuestionLen = 1000
	logTextLength         = 80
)

// Questions are logged with personal data masked.
var redactor = filter.DefaultFilter()

// Notifier receives escalated exchanges.
type Notifier interface {
	NotifyAsync(payload *webhook.EscalationPayload)
}

type Request struct {
	ConversationID string
	Platform       string
	Text           string
}

type Result struct {
	Text       string
	Escalated  bool
	Reason     escalation.Reason
	Kind       answer.Kind
	UserTurnID int64
	BotTurnID  int64
}

// Config holds the answering limits.
type Config struct {
	HistoryWindow     int // zero disables history in the prompt
	MaxQuestionLength int
	HandoffPhrase     string
}

type Pipeline struct {
	store    *store.Store
	kb       *knowledge.Base
	builder  *prompt.Builder
	engine   *answer.Engine
	policy   escalation.Policy
	notifier Notifier
	metrics  *metrics.PrometheusExporter
	window   int
}

// New wires a pipeline. notifier and exporter may be nil.
func New(st *store.Store, kb *knowledge.Base, engine *answer.Engine, cfg Config, notifier Notifier, exporter *metrics.PrometheusExporter) *Pipeline {
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = defaultMaxQuestionLen
	}
	msgs := kb.Messages()
	return &Pipeline{
		store: st,
		kb:    kb,
		builder: &prompt.Builder{
			MaxQuestionLength: cfg.MaxQuestionLength,
			Refusal:           msgs.Refusal,
		},
		engine: engine,
		policy: escalation.Policy{
			HandoffPhrase:  cfg.HandoffPhrase,
			HandoffMessage: msgs.Handoff,
			Refusal:        msgs.Refusal,
		},
		notifier: notifier,
		metrics:  exporter,
		window:   cfg.HistoryWindow,
	}
}

// Process answers one question. The user turn is stored before the prompt is built and
// the bot turn after the answer is decided. Validation failures write nothing.
func (p *Pipeline) Process(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	text := prompt.Normalize(req.Text)

	switch {
	case text == "":
		p.metrics.RecordRequest(req.Platform, "validation", time.Since(start))
		return nil, ErrEmptyQuestion
	case utf8.RuneCountInString(text) > p.builder.MaxQuestionLength:
		p.metrics.RecordRequest(req.Platform, "validation", time.Since(start))
		return nil, ErrQuestionTooLong
	case req.ConversationID == "":
		p.metrics.RecordRequest(req.Platform, "validation", time.Since(start))
		return nil, ErrNoConversation
	}

	logger := slog.With("conversation_id", req.ConversationID, "platform", req.Platform)
	logger.Debug("pipeline: question received", "text", strutil.Truncate(redactor.FilterText(text), logTextLength))

	userTurn, err := p.store.AppendTurn(ctx, &store.CreateTurn{
		ConversationID: req.ConversationID,
		Sender:         store.SenderUser,
		Message:        text,
	})
	if err != nil {
		p.storageFailure(logger, req.Platform, "append", start, err)
		return nil, err
	}

	history, err := p.store.RecentTurns(ctx, req.ConversationID, userTurn.ID, p.window)
	if err != nil {
		// The question can still be answered without context.
		p.metrics.RecordHistoryError("list")
		logger.Warn("pipeline: failed to load history, answering without it", "error", err)
		history = nil
	}

	promptText, err := p.builder.Build(text, p.kb, history)
	if err != nil {
		p.metrics.RecordRequest(req.Platform, "validation", time.Since(start))
		return nil, err
	}

	ans := p.engine.Answer(ctx, promptText)
	decision := p.policy.Decide(text, ans)

	// A client that disconnects must not leave the exchange half recorded.
	botTurn, err := p.store.AppendTurn(context.WithoutCancel(ctx), &store.CreateTurn{
		ConversationID: req.ConversationID,
		Sender:         store.SenderBot,
		Message:        decision.Text,
	})
	if err != nil {
		p.storageFailure(logger, req.Platform, "append", start, err)
		return nil, err
	}

	if decision.Escalated {
		p.metrics.RecordEscalation(req.Platform, string(decision.Reason))
		logger.Info("pipeline: escalated to operator", "reason", decision.Reason)
		if p.notifier != nil {
			p.notifier.NotifyAsync(webhook.NewEscalationPayload(req.ConversationID, req.Platform, text, string(decision.Reason)))
		}
	}
	p.metrics.RecordRequest(req.Platform, string(ans.Kind), time.Since(start))

	return &Result{
		Text:       decision.Text,
		Escalated:  decision.Escalated,
		Reason:     decision.Reason,
		Kind:       ans.Kind,
		UserTurnID: userTurn.ID,
		BotTurnID:  botTurn.ID,
	}, nil
}

func (p *Pipeline) storageFailure(logger *slog.Logger, platform, op string, start time.Time, err error) {
	p.metrics.RecordHistoryError(op)
	p.metrics.RecordRequest(platform, "storage_error", time.Since(start))
	logger.Error("pipeline: history store failed", "operation", op, "error", err)
}

// ReplyFor maps a Process error to the canned user-facing text.
func (p *Pipeline) ReplyFor(err error) string {
	msgs := p.kb.Messages()
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return msgs.EmptyQuestion
	case errors.Is(err, ErrQuestionTooLong):
		return msgs.TooLong
	default:
		return msgs.StorageFailure
	}
}

// History returns the turns of one conversation, or of every conversation when
// conversationID is empty, oldest first.
func (p *Pipeline) History(ctx context.Context, conversationID string) ([]*store.Turn, error) {
	find := &store.FindTurn{}
	if conversationID != "" {
		find.ConversationID = &conversationID
	}
	turns, err := p.store.ListTurns(ctx, find)
	if err != nil {
		p.metrics.RecordHistoryError("list")
		return nil, err
	}
	return turns, nil
}

// Examples returns the knowledge base's example questions.
func (p *Pipeline) Examples() []string {
	return p.kb.Examples()
}

func (p *Pipeline) Messages() knowledge.Messages {
	return p.kb.Messages()
}
