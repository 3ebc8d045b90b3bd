package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mikeboe/deep-research/pkg/completion"
)

var (
	// ErrNoStream means the completion service returned neither a stream nor an error.
	ErrNoStream = errors.New("completion service returned no stream")
	// ErrStreamRead wraps failures while consuming the stream.
	ErrStreamRead = errors.New("stream read failed")
)

const readBufferSize = 4096

// Setter replaces the caller's display value. It always receives the full
// text to show, never a delta.
type Setter func(value string)

// Controller streams a research completion into a caller-owned display value.
//
// Only one research session is meaningful at a time. Start does not reject or
// queue overlapping calls: two sessions in flight race on the flags and on the
// display, and callers are expected to hold off while IsResearching is true.
type Controller struct {
	svc    completion.Service
	sched  Scheduler
	logger *slog.Logger

	mu    sync.Mutex
	phase Phase
}

type Option func(*Controller)

// WithScheduler sets where the final display write runs. Defaults to a Loop.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func NewController(svc completion.Service, opts ...Option) *Controller {
	c := &Controller{
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sched == nil {
		c.sched = NewLoop()
	}
	return c
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Flags() Flags {
	return c.Phase().Flags()
}

func (c *Controller) IsResearching() bool {
	return c.Phase() == PhaseResearching
}

func (c *Controller) ResearchComplete() bool {
	return c.Phase() == PhaseCompleted
}

// Reset returns the controller to idle. The display value is not touched and
// an already scheduled final write still happens.
func (c *Controller) Reset() {
	c.setPhase(PhaseIdle)
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Start begins a research session for text and returns immediately; the
// controller is already researching when Start returns. credentials is sent
// only when non-nil.
//
// The returned channel is closed after the final display write ran. Errors are
// logged and never returned: on a read failure the display is restored to
// text, and in every case the final write shows the accumulated output.
// Cancelling ctx does not stop the session.
func (c *Controller) Start(ctx context.Context, text string, set Setter, model string, provider completion.ProviderInfo, credentials map[string]string) <-chan struct{} {
	c.setPhase(PhaseResearching)

	req := completion.Request{
		Text:        text,
		Model:       model,
		Provider:    provider,
		Credentials: credentials,
	}

	done := make(chan struct{})
	go c.run(context.WithoutCancel(ctx), req, set, done)
	return done
}

func (c *Controller) run(ctx context.Context, req completion.Request, set Setter, done chan struct{}) {
	var (
		output string
		runErr error
	)

	stream, err := c.svc.Complete(ctx, req)
	switch {
	case err != nil:
		runErr = err
	case stream == nil:
		runErr = ErrNoStream
	default:
		output, runErr = c.consume(stream, req.Text, set)
	}

	if runErr != nil {
		c.logger.Error("Research failed", "provider", req.Provider.Name, "model", req.Model, "error", runErr)
	}

	c.setPhase(PhaseCompleted)

	c.sched.Schedule(func() {
		set(output)
		close(done)
	})
}

// consume clears the display, then shows the accumulated output after every
// chunk. On a read error the display goes back to original; the output read so
// far is still returned.
func (c *Controller) consume(stream io.ReadCloser, original string, set Setter) (string, error) {
	defer stream.Close()

	set("")

	dec := NewDecoder()
	buf := make([]byte, readBufferSize)
	var output string

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			output += dec.Decode(buf[:n])
			c.logger.Debug("Research output", "length", len(output))
			set(output)
		}
		if err == io.EOF {
			if tail := dec.Flush(); tail != "" {
				output += tail
				set(output)
			}
			return output, nil
		}
		if err != nil {
			set(original)
			return output, fmt.Errorf("%w: %w", ErrStreamRead, err)
		}
	}
}
