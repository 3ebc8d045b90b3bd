package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultResearchPath is where the server exposes the research stream.
const DefaultResearchPath = "/api/deep-research"

// HTTPClient is a Service backed by a remote deep-research server.
type HTTPClient struct {
	BaseURL string
	Path    string
	Client  *http.Client
}

// NewHTTPClient returns a client for the server at baseURL. The underlying
// http.Client has no overall timeout since responses are long-lived streams.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    DefaultResearchPath,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 2 * time.Minute,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (io.ReadCloser, error) {
	payload, err := json.Marshal(NewResearchRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, status)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "provider"):
		return fmt.Errorf("%w: %s", ErrInvalidProvider, body)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "model"):
		return fmt.Errorf("%w: %s", ErrInvalidModel, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, body)
	}
}
