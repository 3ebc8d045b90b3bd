package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// BreakerConfig configures Breaker. Zero values fall back to defaults.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// Breaker guards stream initiation with a circuit breaker. Only upstream
// failures count; invalid requests and credential errors are the caller's fault.
// Errors after the stream started are not seen by the breaker.
type Breaker struct {
	inner   Service
	breaker *gobreaker.CircuitBreaker[io.ReadCloser]
}

func NewBreaker(inner Service, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[io.ReadCloser](gobreaker.Settings{
		Name:        "completion",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) != KindUpstream
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Complete(ctx context.Context, req Request) (io.ReadCloser, error) {
	stream, err := b.breaker.Execute(func() (io.ReadCloser, error) {
		return b.inner.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return nil, err
	}
	return stream, nil
}

// State reports the breaker state for health output.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
