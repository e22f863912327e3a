package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, true},
		{"missing model", &Config{Provider: "openai", APIKey: "k"}, true},
		{"openai", &Config{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k"}, false},
		{"deepseek defaults", &Config{Provider: "deepseek", Model: "deepseek-chat", APIKey: "k"}, false},
		{"generic provider", &Config{Provider: "acme", Model: "m", APIKey: "k", BaseURL: "http://localhost:9/v1"}, false},
		{"gemini without key", &Config{Provider: "gemini", Model: "gemini-2.5-flash"}, true},
		{"gemini", &Config{Provider: "gemini", Model: "gemini-2.5-flash", APIKey: "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Provider, svc.Provider())
		})
	}
}

// completionServer serves /chat/completions with the given status and body.
func completionServer(t *testing.T, status int, body any, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, baseURL string, timeout int) Service {
	t.Helper()
	svc, err := NewService(&Config{
		Provider: "openai",
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  baseURL + "/v1",
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return svc
}

func TestChat(t *testing.T) {
	srv := completionServer(t, http.StatusOK, map[string]any{
		"id": "cmpl-1",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": "Returns are accepted within 30 days."},
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
	}, 0)

	content, stats, err := newTestService(t, srv.URL, 5).Chat(context.Background(), []Message{
		{Role: "system", Content: "grounding"},
		UserMessage("question"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Returns are accepted within 30 days.", content)
	require.NotNil(t, stats)
	assert.Equal(t, 20, stats.TotalTokens)
}

func TestChatEmptyAndFiltered(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, map[string]any{"choices": []any{}}, 0)
		content, _, err := newTestService(t, srv.URL, 5).Chat(context.Background(), []Message{UserMessage("q")})
		require.NoError(t, err)
		assert.Empty(t, content)
	})

	t.Run("content filter", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, map[string]any{
			"choices": []map[string]any{{
				"finish_reason": "content_filter",
				"message":       map[string]any{"role": "assistant", "content": "partial"},
			}},
		}, 0)
		content, _, err := newTestService(t, srv.URL, 5).Chat(context.Background(), []Message{UserMessage("q")})
		require.NoError(t, err)
		assert.Empty(t, content)
	})
}

func TestChatProviderError(t *testing.T) {
	srv := completionServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
	}, 0)

	_, _, err := newTestService(t, srv.URL, 5).Chat(context.Background(), []Message{UserMessage("q")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM chat failed")
}

func TestChatTimeout(t *testing.T) {
	srv := completionServer(t, http.StatusOK, map[string]any{}, 3*time.Second)

	start := time.Now()
	_, _, err := newTestService(t, srv.URL, 1).Chat(context.Background(), []Message{UserMessage("q")})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "s"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "u"},
		{Role: "tool", Content: "x"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
	assert.Equal(t, "user", out[2].Role)
	assert.Equal(t, "user", out[3].Role, "unknown roles are sent as user")
}

func TestConvertGeminiContents(t *testing.T) {
	system, contents := convertGeminiContents([]Message{
		{Role: "system", Content: "rule one"},
		{Role: "system", Content: "rule two"},
		UserMessage("hello"),
		{Role: "assistant", Content: "hi"},
	})
	assert.Equal(t, "rule one\n\nrule two", system)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello", contents[0].Parts[0].Text)
}
