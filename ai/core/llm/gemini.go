package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

type geminiService struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     int
}

func newGeminiService(cfg *Config, maxTokens, timeout int) (Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(timeout),
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiService{
		client:      client,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (s *geminiService) Provider() string {
	return "gemini"
}

// Chat maps system messages to the system instruction and the rest to contents.
func (s *geminiService) Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	system, contents := convertGeminiContents(messages)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.temperature),
		MaxOutputTokens: int32(s.maxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	startTime := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return "", nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	stats := &LLMCallStats{TotalDurationMs: time.Since(startTime).Milliseconds()}
	if resp.UsageMetadata != nil {
		stats.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		stats.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		stats.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		slog.Warn("LLM: gemini blocked the prompt", "reason", resp.PromptFeedback.BlockReason)
		return "", stats, nil
	}
	return resp.Text(), stats, nil
}

func (s *geminiService) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	startTime := time.Now()
	_, err := s.client.Models.GenerateContent(warmupCtx, s.model, genai.Text("Hi"),
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	logWarmup("gemini", s.model, time.Since(startTime), err)
}

func convertGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
