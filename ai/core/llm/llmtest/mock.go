// Package llmtest provides a scripted llm.Service for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/supportdesk/ai/core/llm"
)

// MockLLM replies with preset responses keyed by a substring of the prompt,
// falling back to a default. It records every call.
type MockLLM struct {
	mu              sync.Mutex
	responses       []scripted
	defaultResponse string
	err             error
	delay           time.Duration
	calls           [][]llm.Message
}

type scripted struct {
	contains string
	output   string
}

func NewMockLLM() *MockLLM {
	return &MockLLM{defaultResponse: "Mock response"}
}

// WithResponse returns output when the last message contains the given text.
func (m *MockLLM) WithResponse(contains, output string) *MockLLM {
	m.responses = append(m.responses, scripted{contains: contains, output: output})
	return m
}

// WithDefaultResponse sets the response used when no preset matches.
func (m *MockLLM) WithDefaultResponse(output string) *MockLLM {
	m.defaultResponse = output
	return m
}

// WithError makes every call fail with err.
func (m *MockLLM) WithError(err error) *MockLLM {
	m.err = err
	return m
}

// WithDelay makes every call wait for d or until ctx is done.
func (m *MockLLM) WithDelay(d time.Duration) *MockLLM {
	m.delay = d
	return m
}

func (m *MockLLM) Chat(ctx context.Context, msgs []llm.Message) (string, *llm.LLMCallStats, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	delay, err := m.delay, m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	if err != nil {
		return "", nil, err
	}

	last := ""
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Content
	}
	for _, r := range m.responses {
		if strings.Contains(last, r.contains) {
			return r.output, &llm.LLMCallStats{}, nil
		}
	}
	return m.defaultResponse, &llm.LLMCallStats{}, nil
}

func (m *MockLLM) Warmup(_ context.Context) {}

func (m *MockLLM) Provider() string {
	return "mock"
}

// Calls returns the number of Chat invocations.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the messages of the most recent call.
func (m *MockLLM) LastMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

var _ llm.Service = (*MockLLM)(nil)
