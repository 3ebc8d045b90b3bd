package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// LLMService completes requests against the configured providers in-process.
type LLMService struct {
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	keys      map[string]string
	baseURLs  map[string]string
}

// NewLLMService registers the default providers. keys and baseURLs are
// fallbacks keyed by provider name, used when a request carries no credential
// or setting of its own.
func NewLLMService(keys, baseURLs map[string]string, logger *slog.Logger) *LLMService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LLMService{
		logger:    logger,
		providers: make(map[string]Provider),
		keys:      make(map[string]string),
		baseURLs:  make(map[string]string),
	}
	for name, key := range keys {
		s.keys[normalizeProvider(name)] = key
	}
	for name, url := range baseURLs {
		s.baseURLs[normalizeProvider(name)] = url
	}
	for _, p := range defaultProviders() {
		s.Register(p)
	}
	return s
}

// Register adds or replaces a provider.
func (s *LLMService) Register(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[normalizeProvider(p.Name)] = p
}

// Providers lists the registered provider names.
func (s *LLMService) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name)
	}
	return names
}

func (s *LLMService) Complete(ctx context.Context, req Request) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := normalizeProvider(req.Provider.Name)
	s.mu.RLock()
	p, ok := s.providers[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidProvider, req.Provider.Name)
	}

	cred := s.credential(p, req)
	if p.NeedsKey && cred.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrUnauthorized, p.Name)
	}

	backend, err := p.Build(ctx, req.Model, cred)
	if err != nil {
		return nil, classify(p.Name, err)
	}

	s.logger.Info("Starting completion stream", "provider", p.Name, "model", req.Model)
	stream, err := pipeStream(ctx, func(ctx context.Context, emit func(string) error) error {
		return backend.Stream(ctx, req.Text, emit)
	})
	if err != nil {
		return nil, classify(p.Name, err)
	}
	return stream, nil
}

func (s *LLMService) credential(p Provider, req Request) Credential {
	key := normalizeProvider(p.Name)
	var cred Credential

	for name, v := range req.Credentials {
		if normalizeProvider(name) == key {
			cred.APIKey = v
		}
	}
	if cred.APIKey == "" {
		cred.APIKey = s.keys[key]
	}

	for name, st := range req.Settings {
		if normalizeProvider(name) == key {
			cred.BaseURL = st.BaseURL
		}
	}
	if cred.BaseURL == "" {
		cred.BaseURL = s.baseURLs[key]
	}
	if cred.BaseURL == "" {
		cred.BaseURL = p.DefaultBaseURL
	}
	return cred
}

func classify(provider string, err error) error {
	switch {
	case errors.Is(err, ErrInvalidModel), errors.Is(err, ErrInvalidProvider),
		errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUpstream):
		return err
	case IsUnauthorized(err):
		return fmt.Errorf("%w: %s: %v", ErrUnauthorized, provider, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUpstream, provider, err)
	}
}
