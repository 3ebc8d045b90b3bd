package completion

import (
	"context"
	"io"
)

// Service produces generated text for a request as a byte stream.
// The stream ends with io.EOF; any other read error means the upstream failed mid-stream.
type Service interface {
	Complete(ctx context.Context, req Request) (io.ReadCloser, error)
}

// ModelInfo describes a model offered by a provider.
type ModelInfo struct {
	Name            string `json:"name"`
	Label           string `json:"label,omitempty"`
	Provider        string `json:"provider,omitempty"`
	MaxTokenAllowed int    `json:"maxTokenAllowed,omitempty"`
}

// ProviderInfo is the provider descriptor sent by clients. Only Name is
// interpreted, the rest is carried along untouched.
type ProviderInfo struct {
	Name              string      `json:"name"`
	StaticModels      []ModelInfo `json:"staticModels,omitempty"`
	GetAPIKeyLink     string      `json:"getApiKeyLink,omitempty"`
	LabelForGetAPIKey string      `json:"labelForGetApiKey,omitempty"`
	Icon              string      `json:"icon,omitempty"`
}

// ProviderSettings holds per-provider overrides, usually read from the "providers" cookie.
type ProviderSettings struct {
	Enabled *bool  `json:"enabled,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// Request is a single completion request. Credentials is keyed by provider
// name; a nil map means no credentials were supplied, which is not the same
// as an empty one.
type Request struct {
	Text        string
	Model       string
	Provider    ProviderInfo
	Credentials map[string]string
	Settings    map[string]ProviderSettings
}

// Validate checks the model and provider identifiers. Text is not validated.
func (r Request) Validate() error {
	if r.Model == "" {
		return ErrInvalidModel
	}
	if r.Provider.Name == "" {
		return ErrInvalidProvider
	}
	return nil
}

// ResearchRequest is the JSON body of POST /api/deep-research.
type ResearchRequest struct {
	Message  string             `json:"message"`
	Model    string             `json:"model"`
	Provider ProviderInfo       `json:"provider"`
	APIKeys  *map[string]string `json:"apiKeys,omitempty"`
}

// NewResearchRequest builds the wire body for req. apiKeys is only present
// when req.Credentials is non-nil.
func NewResearchRequest(req Request) ResearchRequest {
	body := ResearchRequest{
		Message:  req.Text,
		Model:    req.Model,
		Provider: req.Provider,
	}
	if req.Credentials != nil {
		keys := req.Credentials
		body.APIKeys = &keys
	}
	return body
}
