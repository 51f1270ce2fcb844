// Package config provides configuration for the assistant service.
package config

import (
	"os"
	"strconv"
	"time"
)

// ProviderConfig describes one LLM backend in the fallback chain.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// Config holds the service configuration. It is loaded once at startup and
// passed by value-semantics to the components that need it.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Ordered fallback chain; index 0 is tried first.
	Providers []ProviderConfig

	// Model invocation limits
	MaxOutputTokens int
	MaxToolRounds   int
	LLMTimeout      time.Duration

	// Context pruning
	RecentTurnWindow   int
	HistoryTokenBudget int
	SummaryModel       string

	// Retrieval
	RetrievalTopK     int
	RetrievalMinScore float64

	// Response cache
	CacheTTL time.Duration

	// Session guard
	DailyMessageQuota   int
	ConversationTurnCap int
	CooldownPerMinute   int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc"),

		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 1024),
		MaxToolRounds:   getEnvInt("MAX_TOOL_ROUNDS", 5),
		LLMTimeout:      time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,

		RecentTurnWindow:   getEnvInt("RECENT_TURN_WINDOW", 8),
		HistoryTokenBudget: getEnvInt("HISTORY_TOKEN_BUDGET", 3000),
		SummaryModel:       getEnv("SUMMARY_MODEL", "gpt-4o-mini"),

		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", 4),
		RetrievalMinScore: getEnvFloat("RETRIEVAL_MIN_SCORE", 0.35),

		CacheTTL: time.Duration(getEnvInt("CACHE_TTL_MS", 6*3600*1000)) * time.Millisecond,

		DailyMessageQuota:   getEnvInt("DAILY_MESSAGE_QUOTA", 200),
		ConversationTurnCap: getEnvInt("CONVERSATION_TURN_CAP", 200),
		CooldownPerMinute:   getEnvInt("COOLDOWN_PER_MINUTE", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.Providers = loadProviders()
	return cfg
}

// loadProviders reads the ordered provider chain. The primary is always
// present; the secondary joins the chain only when configured.
func loadProviders() []ProviderConfig {
	providers := []ProviderConfig{
		{
			Name:    getEnv("LLM_PRIMARY_NAME", "primary"),
			BaseURL: getEnv("LLM_PRIMARY_URL", "https://api.openai.com"),
			APIKey:  getEnv("LLM_PRIMARY_API_KEY", ""),
			Model:   getEnv("LLM_PRIMARY_MODEL", "gpt-4o"),
		},
	}
	if url := getEnv("LLM_SECONDARY_URL", ""); url != "" {
		providers = append(providers, ProviderConfig{
			Name:    getEnv("LLM_SECONDARY_NAME", "secondary"),
			BaseURL: url,
			APIKey:  getEnv("LLM_SECONDARY_API_KEY", ""),
			Model:   getEnv("LLM_SECONDARY_MODEL", "gpt-4o-mini"),
		})
	}
	return providers
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
