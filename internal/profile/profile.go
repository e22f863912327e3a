package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/supportdesk/internal/apperr"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration. Every provider except gemini speaks the OpenAI-compatible protocol.
	LLMProvider    string // openai, deepseek, zai, siliconflow, dashscope, openrouter, ollama, gemini
	LLMAPIKey      string
	LLMBaseURL     string // optional, has default per provider
	LLMModel       string
	LLMTimeout     int // seconds
	LLMMaxTokens   int
	LLMTemperature float32

	// LINE Messaging API webhook channel.
	LINEChannelSecret      string
	LINEChannelAccessToken string

	// Telegram webhook channel.
	TelegramBotToken    string
	TelegramSecretToken string

	// Operator notification on escalation (optional).
	EscalationWebhookURL string

	// Answering limits.
	HistoryWindow     int
	MaxQuestionLength int
	MaxEntryLength    int
	HandoffPhrase     string

	KnowledgePath string
	LogLevel      string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
	"gemini": {
		Model: "gemini-2.5-flash",
	},
}

const (
	defaultLLMProvider       = "openai"
	defaultLLMTimeout        = 30
	defaultLLMMaxTokens      = 1024
	defaultHistoryWindow     = 10
	defaultMaxQuestionLength = 1000
	defaultMaxEntryLength    = 4000
	defaultHandoffPhrase     = "request human agent"
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLINEEnabled reports whether the LINE webhook channel has credentials.
func (p *Profile) IsLINEEnabled() bool {
	return p.LINEChannelSecret != ""
}

// IsTelegramEnabled reports whether the Telegram webhook channel has credentials.
func (p *Profile) IsTelegramEnabled() bool {
	return p.TelegramBotToken != "" && p.TelegramSecretToken != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
		slog.Warn("invalid number in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// Values already set on the profile (from flags) win over the environment for
// the knowledge path and log level.
func (p *Profile) FromEnv() {
	p.LLMProvider = strings.ToLower(getEnvOrDefault("SUPPORTDESK_LLM_PROVIDER", defaultLLMProvider))
	p.LLMAPIKey = getEnvOrDefault("SUPPORTDESK_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("SUPPORTDESK_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("SUPPORTDESK_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("SUPPORTDESK_LLM_TIMEOUT_SECONDS", defaultLLMTimeout)
	p.LLMMaxTokens = getEnvOrDefaultInt("SUPPORTDESK_LLM_MAX_TOKENS", defaultLLMMaxTokens)
	p.LLMTemperature = getEnvOrDefaultFloat("SUPPORTDESK_LLM_TEMPERATURE", 0.2)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, treating as OpenAI-compatible", "provider", p.LLMProvider)
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.LINEChannelSecret = getEnvOrDefault("SUPPORTDESK_LINE_CHANNEL_SECRET", "")
	p.LINEChannelAccessToken = getEnvOrDefault("SUPPORTDESK_LINE_CHANNEL_ACCESS_TOKEN", "")
	p.TelegramBotToken = getEnvOrDefault("SUPPORTDESK_TELEGRAM_BOT_TOKEN", "")
	p.TelegramSecretToken = getEnvOrDefault("SUPPORTDESK_TELEGRAM_SECRET_TOKEN", "")
	p.EscalationWebhookURL = getEnvOrDefault("SUPPORTDESK_ESCALATION_WEBHOOK_URL", "")

	p.HistoryWindow = getEnvOrDefaultInt("SUPPORTDESK_HISTORY_WINDOW", defaultHistoryWindow)
	p.MaxQuestionLength = getEnvOrDefaultInt("SUPPORTDESK_MAX_QUESTION_LENGTH", defaultMaxQuestionLength)
	p.MaxEntryLength = getEnvOrDefaultInt("SUPPORTDESK_MAX_ENTRY_LENGTH", defaultMaxEntryLength)
	p.HandoffPhrase = getEnvOrDefault("SUPPORTDESK_HANDOFF_PHRASE", defaultHandoffPhrase)

	if p.KnowledgePath == "" {
		p.KnowledgePath = getEnvOrDefault("SUPPORTDESK_KNOWLEDGE", "")
	}
	if p.LogLevel == "" {
		p.LogLevel = getEnvOrDefault("SUPPORTDESK_LOG_LEVEL", "info")
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and reports any problem that must stop startup.
// Missing webhook credentials are not an error: the channel is disabled and the
// web channel keeps serving.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.LLMAPIKey == "" {
		return apperr.Config("SUPPORTDESK_LLM_API_KEY is required for provider %q", p.LLMProvider)
	}
	if p.LLMTimeout <= 0 {
		return apperr.Config("LLM timeout must be positive, got %d", p.LLMTimeout)
	}
	if p.HistoryWindow < 0 {
		return apperr.Config("history window must not be negative, got %d", p.HistoryWindow)
	}
	if p.MaxQuestionLength <= 0 || p.MaxEntryLength <= 0 {
		return apperr.Config("max question and entry length must be positive")
	}
	if strings.TrimSpace(p.HandoffPhrase) == "" {
		return apperr.Config("handoff phrase must not be empty")
	}
	if p.KnowledgePath == "" {
		return apperr.Config("knowledge file is required (--knowledge or SUPPORTDESK_KNOWLEDGE)")
	}

	if !p.IsLINEEnabled() {
		slog.Warn("LINE channel secret not configured, LINE webhook disabled")
	} else if p.LINEChannelAccessToken == "" {
		slog.Warn("LINE channel access token not configured, replies cannot be delivered")
	}
	if !p.IsTelegramEnabled() && (p.TelegramBotToken != "" || p.TelegramSecretToken != "") {
		slog.Warn("Telegram requires both bot token and secret token, Telegram webhook disabled")
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "supportdesk")
		} else {
			p.Data = "/var/opt/supportdesk"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return apperr.WrapConfig(err, "create data directory")
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return apperr.WrapConfig(err, "data directory")
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("supportdesk_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return apperr.Config("dsn is required for the postgres driver")
		}
	default:
		return apperr.Config("unknown database driver %q", p.Driver)
	}

	return nil
}
