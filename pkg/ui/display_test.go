package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestDisplay_AppendsTail(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(&buf)
	d.Start("my idea")

	for _, v := range []string{"", "Hello", "Hello, wor", "Hello, world", "Hello, world"} {
		d.Set(v)
	}

	if got := buf.String(); got != "Hello, world" {
		t.Errorf("output = %q", got)
	}
	if d.Value() != "Hello, world" {
		t.Errorf("value = %q", d.Value())
	}
}

func TestDisplay_Replacement(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(&buf)
	d.Start("my idea")

	d.Set("")
	d.Set("Partial")
	d.Set("my idea")
	d.Set("Partial")

	got := buf.String()
	if !strings.HasPrefix(got, "Partial\n--- replaced ---\nmy idea") {
		t.Errorf("revert not rendered: %q", got)
	}
	if !strings.HasSuffix(got, "--- replaced ---\nPartial") {
		t.Errorf("final value not rendered: %q", got)
	}
	if d.Value() != "Partial" {
		t.Errorf("value = %q", d.Value())
	}
}

func TestDisplay_Finish(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		status string
		want   string
	}{
		{"adds newline", []string{"text"}, "", "text\n"},
		{"keeps newline", []string{"text\n"}, "", "text\n"},
		{"status line", []string{"text"}, "done", "text\ndone\n"},
		{"nothing shown", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			d := NewDisplay(&buf)
			d.Start("")
			for _, v := range tt.values {
				d.Set(v)
			}
			d.Finish(tt.status)
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplay_SpinnerStopsOnFirstText(t *testing.T) {
	var out, spin bytes.Buffer
	d := NewDisplay(&out, WithSpinner(&spin, "Researching..."))
	d.Start("idea")
	d.Set("")
	d.Set("A")
	d.Finish("")

	if got := out.String(); got != "A\n" {
		t.Errorf("output = %q", got)
	}
}
