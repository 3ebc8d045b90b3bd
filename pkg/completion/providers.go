package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

// Backend streams generated text for a prompt, calling emit once per fragment.
type Backend interface {
	Stream(ctx context.Context, prompt string, emit func(chunk string) error) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string, emit func(chunk string) error) error

func (f BackendFunc) Stream(ctx context.Context, prompt string, emit func(chunk string) error) error {
	return f(ctx, prompt, emit)
}

// Credential is what a backend needs to reach its provider.
type Credential struct {
	APIKey  string
	BaseURL string
}

// BackendFactory builds a backend for one model.
type BackendFactory func(ctx context.Context, model string, cred Credential) (Backend, error)

// Provider describes a supported upstream.
type Provider struct {
	Name           string
	NeedsKey       bool
	DefaultBaseURL string
	Build          BackendFactory
}

func defaultProviders() []Provider {
	return []Provider{
		{Name: "OpenAI", NeedsKey: true, Build: openAIBackend},
		{Name: "Groq", NeedsKey: true, DefaultBaseURL: "https://api.groq.com/openai/v1", Build: openAIBackend},
		{Name: "Deepseek", NeedsKey: true, DefaultBaseURL: "https://api.deepseek.com", Build: openAIBackend},
		{Name: "OpenRouter", NeedsKey: true, DefaultBaseURL: "https://openrouter.ai/api/v1", Build: openAIBackend},
		{Name: "Anthropic", NeedsKey: true, Build: anthropicBackend},
		{Name: "Google", NeedsKey: true, Build: geminiBackend},
		{Name: "Ollama", NeedsKey: false, DefaultBaseURL: "http://127.0.0.1:11434", Build: ollamaBackend},
	}
}

// langchainBackend streams through any langchaingo model.
type langchainBackend struct {
	llm llms.Model
}

func (b langchainBackend) Stream(ctx context.Context, prompt string, emit func(chunk string) error) error {
	_, err := b.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return emit(string(chunk))
		}),
	)
	return err
}

func openAIBackend(_ context.Context, model string, cred Credential) (Backend, error) {
	opts := []openai.Option{openai.WithToken(cred.APIKey), openai.WithModel(model)}
	if cred.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cred.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return langchainBackend{llm: llm}, nil
}

func anthropicBackend(_ context.Context, model string, cred Credential) (Backend, error) {
	opts := []anthropic.Option{anthropic.WithToken(cred.APIKey), anthropic.WithModel(model)}
	if cred.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cred.BaseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, err
	}
	return langchainBackend{llm: llm}, nil
}

func ollamaBackend(_ context.Context, model string, cred Credential) (Backend, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(cred.BaseURL))
	if err != nil {
		return nil, err
	}
	return langchainBackend{llm: llm}, nil
}

// gemini talks to the Gemini API directly through genai.
type gemini struct {
	client *genai.Client
	model  string
}

func geminiBackend(ctx context.Context, model string, cred Credential) (Backend, error) {
	cfg := &genai.ClientConfig{
		APIKey:  cred.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cred.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: cred.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &gemini{client: client, model: model}, nil
}

func (g *gemini) Stream(ctx context.Context, prompt string, emit func(chunk string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), nil) {
		if err != nil {
			return err
		}
		if err := emit(resp.Text()); err != nil {
			return err
		}
	}
	return nil
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
