package completion

import (
	"errors"
	"strings"
)

var (
	ErrInvalidModel    = errors.New("invalid or missing model")
	ErrInvalidProvider = errors.New("invalid or missing provider")
	ErrUnauthorized    = errors.New("invalid or missing API key")
	ErrUpstream        = errors.New("upstream completion failed")
)

// Kind classifies completion failures for the transport boundary.
type Kind int

const (
	KindUpstream Kind = iota
	KindInvalidModel
	KindInvalidProvider
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidModel:
		return "invalid_model"
	case KindInvalidProvider:
		return "invalid_provider"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "upstream"
	}
}

// KindOf reports the failure class of err. Errors that mention an API key are
// treated as unauthorized even when they come unwrapped from a provider SDK.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidModel):
		return KindInvalidModel
	case errors.Is(err, ErrInvalidProvider):
		return KindInvalidProvider
	case IsUnauthorized(err):
		return KindUnauthorized
	default:
		return KindUpstream
	}
}

// IsUnauthorized reports whether err is a credential failure.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api key") || strings.Contains(msg, "api_key")
}
