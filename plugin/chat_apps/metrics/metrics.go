// Package metrics provides webhook health monitoring for chat apps.
package metrics

import (
	"sync"
	"time"
)

// EventType represents the type of webhook event being tracked.
type EventType string

const (
	EventWebhookReceived   EventType = "webhook_received"
	EventWebhookValidated  EventType = "webhook_validated"
	EventWebhookRejected   EventType = "webhook_rejected"
	EventWebhookParseError EventType = "webhook_parse_error"
	EventMessageProcessed  EventType = "message_processed"
	EventResponseSent      EventType = "response_sent"
	EventResponseError     EventType = "response_error"
)

const maxRecentErrors = 10

// webhookMetrics tracks delivery metrics for one platform.
type webhookMetrics struct {
	totalReceived     int64
	totalValidated    int64
	rejected          int64
	parseErrors       int64
	messagesProcessed int64
	responsesSent     int64
	responseErrors    int64

	lastReceived     time.Time
	lastValidated    time.Time
	lastError        time.Time
	totalProcessTime time.Duration

	recentErrors []ErrorRecord
}

// ErrorRecord records details of an error.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Error     string    `json:"error"`
}

// Registry holds metrics for every webhook platform.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*webhookMetrics
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*webhookMetrics),
		now:     time.Now,
	}
}

// RecordEvent records a webhook event. A nil registry ignores it.
func (r *Registry) RecordEvent(platform string, eventType EventType, processDuration time.Duration, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.metrics[platform]
	if !exists {
		m = &webhookMetrics{recentErrors: make([]ErrorRecord, 0, maxRecentErrors)}
		r.metrics[platform] = m
	}

	now := r.now()
	switch eventType {
	case EventWebhookReceived:
		m.totalReceived++
		m.lastReceived = now
	case EventWebhookValidated:
		m.totalValidated++
		m.lastValidated = now
	case EventWebhookRejected:
		m.rejected++
		m.lastError = now
		m.addErrorRecord(now, eventType, err)
	case EventWebhookParseError:
		m.parseErrors++
		m.lastError = now
		m.addErrorRecord(now, eventType, err)
	case EventMessageProcessed:
		m.messagesProcessed++
		m.totalProcessTime += processDuration
	case EventResponseSent:
		m.responsesSent++
	case EventResponseError:
		m.responseErrors++
		m.lastError = now
		m.addErrorRecord(now, eventType, err)
	}
}

func (m *webhookMetrics) addErrorRecord(ts time.Time, eventType EventType, err error) {
	if err == nil {
		return
	}
	m.recentErrors = append(m.recentErrors, ErrorRecord{Timestamp: ts, EventType: eventType, Error: err.Error()})
	if len(m.recentErrors) > maxRecentErrors {
		m.recentErrors = m.recentErrors[1:]
	}
}

func (m *webhookMetrics) snapshot() *Snapshot {
	s := &Snapshot{
		TotalReceived:     m.totalReceived,
		TotalValidated:    m.totalValidated,
		Rejected:          m.rejected,
		ParseErrors:       m.parseErrors,
		MessagesProcessed: m.messagesProcessed,
		ResponsesSent:     m.responsesSent,
		ResponseErrors:    m.responseErrors,
		LastReceived:      m.lastReceived,
		LastValidated:     m.lastValidated,
		LastError:         m.lastError,
		RecentErrors:      append([]ErrorRecord{}, m.recentErrors...),
	}
	if m.messagesProcessed > 0 {
		s.AvgProcessTime = m.totalProcessTime / time.Duration(m.messagesProcessed)
	}
	return s
}

// Get returns a snapshot for one platform, or nil if nothing was recorded.
func (r *Registry) Get(platform string) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[platform]
	if !ok {
		return nil
	}
	return m.snapshot()
}

// All returns snapshots of every platform.
func (r *Registry) All() map[string]*Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Snapshot, len(r.metrics))
	for platform, m := range r.metrics {
		out[platform] = m.snapshot()
	}
	return out
}

// Snapshot is a point-in-time copy of one platform's webhook metrics.
type Snapshot struct {
	TotalReceived     int64         `json:"total_received"`
	TotalValidated    int64         `json:"total_validated"`
	Rejected          int64         `json:"rejected"`
	ParseErrors       int64         `json:"parse_errors"`
	MessagesProcessed int64         `json:"messages_processed"`
	ResponsesSent     int64         `json:"responses_sent"`
	ResponseErrors    int64         `json:"response_errors"`
	LastReceived      time.Time     `json:"last_received"`
	LastValidated     time.Time     `json:"last_validated"`
	LastError         time.Time     `json:"last_error"`
	AvgProcessTime    time.Duration `json:"avg_process_time_ns"`
	RecentErrors      []ErrorRecord `json:"recent_errors"`
}

// SuccessRate is validated / received, in percent.
func (s *Snapshot) SuccessRate() float64 {
	if s.TotalReceived == 0 {
		return 100.0
	}
	return float64(s.TotalValidated) / float64(s.TotalReceived) * 100.0
}

// ErrorRate is response errors / processed messages, in percent.
func (s *Snapshot) ErrorRate() float64 {
	if s.MessagesProcessed == 0 {
		return 0.0
	}
	return float64(s.ResponseErrors) / float64(s.MessagesProcessed) * 100.0
}
