package server

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecordAttrs(t *testing.T) {
	r := slog.NewRecord(time.Now(), slog.LevelError, "Research failed", 0)
	r.AddAttrs(
		slog.Any("error", errors.New("boom")),
		slog.Int("bytes", 12),
		slog.Group("req", slog.String("model", "gpt-4o")),
	)

	got := recordAttrs([]slog.Attr{slog.String("run_id", "abc")}, "", r)

	if got["run_id"] != "abc" {
		t.Errorf("missing handler attr: %v", got)
	}
	if got["error"] != "boom" {
		t.Errorf("errors should be stored as text, got %#v", got["error"])
	}
	if got["bytes"] != int64(12) {
		t.Errorf("bytes = %#v", got["bytes"])
	}
	req, ok := got["req"].(map[string]interface{})
	if !ok || req["model"] != "gpt-4o" {
		t.Errorf("group not flattened into a map: %#v", got["req"])
	}
}

func TestRecordAttrs_Group(t *testing.T) {
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
	r.AddAttrs(slog.String("k", "v"))

	got := recordAttrs(nil, "stream", r)
	if got["stream.k"] != "v" {
		t.Errorf("expected grouped key, got %v", got)
	}
}

func TestDBLogHandler_WithAttrsDoesNotMutate(t *testing.T) {
	base := NewDBLogHandler(nil, uuid.Nil, nil)
	derived := base.WithAttrs([]slog.Attr{slog.String("a", "1")}).(*DBLogHandler)
	if len(base.attrs) != 0 {
		t.Errorf("base handler mutated: %v", base.attrs)
	}
	if len(derived.attrs) != 1 {
		t.Errorf("derived handler missing attrs: %v", derived.attrs)
	}
	if !derived.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler should accept every level")
	}
}
