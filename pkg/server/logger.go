package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/database"
)

// DBLogHandler writes records for one run to research_logs and forwards them
// to next, if set.
type DBLogHandler struct {
	DB    *database.PostgresDB
	RunID uuid.UUID

	next  slog.Handler
	attrs []slog.Attr
	group string
}

func NewDBLogHandler(db *database.PostgresDB, runID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{DB: db, RunID: runID, next: next}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	metaJSON, err := json.Marshal(recordAttrs(h.attrs, h.group, r))
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Logs must survive the request context being cancelled.
	_, dbErr := h.DB.Pool.Exec(context.WithoutCancel(ctx),
		"INSERT INTO research_logs (run_id, timestamp, level, message, metadata) VALUES ($1, $2, $3, $4, $5)",
		h.RunID, r.Time, r.Level.String(), r.Message, metaJSON,
	)

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		if err := h.next.Handle(ctx, r); err != nil {
			return err
		}
	}
	return dbErr
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), qualify(h.group, attrs)...)
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

func qualify(group string, attrs []slog.Attr) []slog.Attr {
	if group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: group + "." + a.Key, Value: a.Value}
	}
	return out
}

func recordAttrs(base []slog.Attr, group string, r slog.Record) map[string]interface{} {
	attrs := make(map[string]interface{}, len(base)+r.NumAttrs())
	for _, a := range base {
		attrs[a.Key] = attrValue(a.Value)
	}
	var own []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		own = append(own, a)
		return true
	})
	for _, a := range qualify(group, own) {
		attrs[a.Key] = attrValue(a.Value)
	}
	return attrs
}

func attrValue(v slog.Value) interface{} {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindGroup {
		m := make(map[string]interface{})
		for _, a := range v.Group() {
			m[a.Key] = attrValue(a.Value)
		}
		return m
	}
	return v.Any()
}
