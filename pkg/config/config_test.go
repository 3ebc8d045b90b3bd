package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, v := range []string{"PORT", "DEFAULT_MODEL", "RATE_LIMIT_PER_MINUTE", "BREAKER_TIMEOUT", "ALLOW_ORIGINS", "OPENAI_API_KEY"} {
		t.Setenv(v, "")
	}

	cfg := Load()
	if cfg.Port != "8081" {
		t.Errorf("expected default port, got %q", cfg.Port)
	}
	if cfg.RateLimitPerMinute != 30 {
		t.Errorf("expected default rate limit, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.BreakerTimeout != 30*time.Second {
		t.Errorf("expected default breaker timeout, got %v", cfg.BreakerTimeout)
	}
	if !reflect.DeepEqual(cfg.AllowOrigins, []string{"*"}) {
		t.Errorf("unexpected origins %v", cfg.AllowOrigins)
	}
	if _, ok := cfg.ProviderKeys["OpenAI"]; ok {
		t.Error("no OpenAI key expected")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "g-test")
	t.Setenv("BREAKER_TIMEOUT", "5s")
	t.Setenv("ALLOW_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("OLLAMA_API_BASE_URL", "http://ollama:11434")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("expected port from env, got %q", cfg.Port)
	}
	if cfg.ProviderKeys["OpenAI"] != "sk-test" {
		t.Errorf("expected OpenAI key, got %q", cfg.ProviderKeys["OpenAI"])
	}
	if cfg.GoogleApiKey != "g-test" {
		t.Errorf("expected Google key from GEMINI_API_KEY, got %q", cfg.GoogleApiKey)
	}
	if cfg.BreakerTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.BreakerTimeout)
	}
	if !reflect.DeepEqual(cfg.AllowOrigins, []string{"http://a.test", "http://b.test"}) {
		t.Errorf("unexpected origins %v", cfg.AllowOrigins)
	}
	if cfg.BaseURLs()["Ollama"] != "http://ollama:11434" {
		t.Errorf("unexpected base URLs %v", cfg.BaseURLs())
	}
}

func TestGetEnvAsInt_Invalid(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "lots")
	if got := getEnvAsInt("CHUNK_SIZE", 1000); got != 1000 {
		t.Errorf("invalid value should fall back to default, got %d", got)
	}
}
