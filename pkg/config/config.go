package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL  string
	Port         string
	AllowOrigins []string
	ServerURL    string

	DefaultModel    string
	DefaultProvider string

	// ProviderKeys holds fallback API keys by provider name.
	ProviderKeys  map[string]string
	OllamaBaseURL string

	GoogleApiKey   string
	EmbeddingModel string
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int

	RateLimitPerMinute int
	RateLimitBurst     int

	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	LogLevel string
}

// providerKeyEnv maps provider names to the variables holding their keys.
var providerKeyEnv = map[string][]string{
	"OpenAI":     {"OPENAI_API_KEY"},
	"Anthropic":  {"ANTHROPIC_API_KEY"},
	"Google":     {"GOOGLE_GENERATIVE_AI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"Groq":       {"GROQ_API_KEY"},
	"Deepseek":   {"DEEPSEEK_API_KEY"},
	"OpenRouter": {"OPEN_ROUTER_API_KEY"},
}

func Load() *Config {
	keys := make(map[string]string)
	for provider, vars := range providerKeyEnv {
		for _, v := range vars {
			if key := os.Getenv(v); key != "" {
				keys[provider] = key
				break
			}
		}
	}

	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8081"),
		AllowOrigins:       getEnvAsList("ALLOW_ORIGINS", []string{"*"}),
		ServerURL:          getEnv("DEEP_RESEARCH_URL", "http://localhost:8081"),
		DefaultModel:       getEnv("DEFAULT_MODEL", "gemini-2.5-flash"),
		DefaultProvider:    getEnv("DEFAULT_PROVIDER", "Google"),
		ProviderKeys:       keys,
		OllamaBaseURL:      getEnv("OLLAMA_API_BASE_URL", ""),
		GoogleApiKey:       keys["Google"],
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		CollectionName:     getEnv("COLLECTION_NAME", "research_analyses"),
		ChunkSize:          getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:       getEnvAsInt("CHUNK_OVERLAP", 200),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 5),
		BreakerMaxFailures: getEnvAsInt("BREAKER_MAX_FAILURES", 5),
		BreakerTimeout:     getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// BaseURLs returns provider base URL overrides from the environment.
func (c *Config) BaseURLs() map[string]string {
	urls := make(map[string]string)
	if c.OllamaBaseURL != "" {
		urls["Ollama"] = c.OllamaBaseURL
	}
	return urls
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
