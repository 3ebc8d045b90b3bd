package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mikeboe/deep-research/pkg/database"
)

const (
	RunStreaming = "streaming"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// RunStore records research runs and their logs. A nil RunStore disables history.
type RunStore interface {
	BeginRun(ctx context.Context, r NewRun) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, output string, runErr error) error
	RunLogger(id uuid.UUID, next slog.Handler) slog.Handler
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

type NewRun struct {
	Idea     string
	Model    string
	Provider string
}

type Run struct {
	ID        uuid.UUID `json:"id"`
	Idea      string    `json:"idea"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Output    *string   `json:"output,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Service is the postgres RunStore.
type Service struct {
	DB *database.PostgresDB
}

func NewService(db *database.PostgresDB) *Service {
	return &Service{DB: db}
}

func (s *Service) BeginRun(ctx context.Context, r NewRun) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.Pool.Exec(ctx,
		"INSERT INTO research_runs (id, idea, model, provider, status) VALUES ($1, $2, $3, $4, $5)",
		id, r.Idea, r.Model, r.Provider, RunStreaming,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

func (s *Service) FinishRun(ctx context.Context, id uuid.UUID, output string, runErr error) error {
	status := RunCompleted
	var errText *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		errText = &msg
	}

	_, err := s.DB.Pool.Exec(ctx,
		"UPDATE research_runs SET status = $2, output = $3, error = $4, updated_at = NOW() WHERE id = $1",
		id, status, output, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (s *Service) RunLogger(id uuid.UUID, next slog.Handler) slog.Handler {
	return NewDBLogHandler(s.DB, id, next)
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, idea, model, provider, status, output, error, created_at, updated_at
		FROM research_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.DB.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return collectRuns(rows)
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, idea, model, provider, status, output, error, created_at, updated_at
		FROM research_runs
		WHERE id = $1
	`
	r, err := scanRun(s.DB.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

func (s *Service) GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return collectLogs(rows)
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Idea, &r.Model, &r.Provider, &r.Status, &r.Output, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// collectRuns scans every row; a bad row fails the whole listing.
func collectRuns(rows pgx.Rows) ([]Run, error) {
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

func collectLogs(rows pgx.Rows) ([]LogEntry, error) {
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LogEntry, error) {
		var l LogEntry
		err := row.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan logs: %w", err)
	}
	return logs, nil
}
