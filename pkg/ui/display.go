// Package ui renders research output in a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Display is a terminal-backed text value. Set is meant to be passed as a
// research.Setter: when the new value extends what is on screen only the new
// tail is printed, otherwise the value is printed again in full.
type Display struct {
	mu      sync.Mutex
	w       io.Writer
	value   string
	shown   string
	spinner *spinner.Spinner

	replaced *color.Color
	dim      *color.Color
}

type Option func(*Display)

// WithSpinner shows msg with a spinner on out until the first value arrives.
func WithSpinner(out io.Writer, msg string) Option {
	return func(d *Display) {
		s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(out))
		s.Suffix = "  " + msg
		s.Color("cyan")
		d.spinner = s
	}
}

func NewDisplay(w io.Writer, opts ...Option) *Display {
	d := &Display{
		w:        w,
		replaced: color.New(color.FgYellow),
		dim:      color.New(color.FgHiBlack),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start seeds the display with the initial value and starts the spinner.
func (d *Display) Start(initial string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = initial
	d.shown = ""
	if d.spinner != nil {
		d.spinner.Start()
	}
}

func (d *Display) Set(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.value = v
	if d.spinner != nil && v != "" {
		d.spinner.Stop()
	}

	switch {
	case v == d.shown:
	case strings.HasPrefix(v, d.shown):
		fmt.Fprint(d.w, v[len(d.shown):])
		d.shown = v
	case v == "":
		// cleared; nothing to print until new text arrives
		d.shown = ""
	default:
		if d.shown != "" {
			fmt.Fprintln(d.w)
		}
		d.replaced.Fprintln(d.w, "--- replaced ---")
		fmt.Fprint(d.w, v)
		d.shown = v
	}
}

func (d *Display) Value() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Finish stops the spinner and ends the output with a newline and a status line.
func (d *Display) Finish(status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.spinner != nil {
		d.spinner.Stop()
	}
	if d.shown != "" && !strings.HasSuffix(d.shown, "\n") {
		fmt.Fprintln(d.w)
	}
	if status != "" {
		d.dim.Fprintf(d.w, "%s\n", status)
	}
}
