package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/completion"
	"github.com/mikeboe/deep-research/pkg/prompt"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const (
	streamBufferSize = 4096
	archiveTimeout   = 2 * time.Minute
)

// Archive indexes finished analyses and searches them. A nil Archive
// disables search.
type Archive interface {
	Index(ctx context.Context, e archive.Entry) error
	Search(ctx context.Context, query string, topK int) ([]archive.Match, error)
	Passages(ctx context.Context, runID uuid.UUID) ([]vectorstore.Passage, error)
}

type Handler struct {
	completer completion.Service
	store     RunStore
	archive   Archive
	logger    *slog.Logger

	sessionMu sync.RWMutex
	sessions  map[string]*MCPSession
}

func NewHandler(completer completion.Service, store RunStore, arch Archive, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		completer: completer,
		store:     store,
		archive:   arch,
		logger:    logger,
		sessions:  make(map[string]*MCPSession),
	}
}

// RegisterRoutes mounts the API. limiter may be nil.
func (h *Handler) RegisterRoutes(r *gin.Engine, limiter *RateLimiter) {
	r.POST("/mcp", h.MCPHandler)

	research := []gin.HandlerFunc{h.deepResearch}
	if limiter != nil {
		research = append([]gin.HandlerFunc{limiter.Middleware()}, research...)
	}

	api := r.Group("/api/deep-research")
	{
		api.POST("", research...)
		api.GET("/runs", h.listRuns)
		api.GET("/runs/:id", h.getRun)
		api.GET("/runs/:id/logs", h.getRunLogs)
		api.GET("/runs/:id/passages", h.getRunPassages)
		api.GET("/search", h.search)
	}
}

// errorResponse maps a completion failure to a status code and plain-text body.
func errorResponse(err error) (int, string) {
	switch completion.KindOf(err) {
	case completion.KindInvalidModel:
		return http.StatusBadRequest, "Invalid or missing model"
	case completion.KindInvalidProvider:
		return http.StatusBadRequest, "Invalid or missing provider"
	case completion.KindUnauthorized:
		return http.StatusUnauthorized, "Invalid or missing API key"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func (h *Handler) buildRequest(r *http.Request, body completion.ResearchRequest) completion.Request {
	return completion.Request{
		Text:        prompt.MarketAnalysis(body.Model, body.Provider.Name, body.Message),
		Model:       body.Model,
		Provider:    body.Provider,
		Credentials: mergeCredentials(APIKeysFromCookie(r), body.APIKeys),
		Settings:    ProviderSettingsFromCookie(r),
	}
}

// runLog tracks one research run in the store and archive, when configured.
type runLog struct {
	id     uuid.UUID
	idea   string
	req    completion.Request
	logger *slog.Logger
}

func (h *Handler) beginRun(ctx context.Context, idea string, req completion.Request) *runLog {
	run := &runLog{idea: idea, req: req, logger: h.logger}
	if h.store == nil {
		return run
	}

	id, err := h.store.BeginRun(ctx, NewRun{Idea: idea, Model: req.Model, Provider: req.Provider.Name})
	if err != nil {
		h.logger.Warn("Failed to record run", "error", err)
		return run
	}
	run.id = id
	run.logger = slog.New(h.store.RunLogger(id, h.logger.Handler())).With("run_id", id.String())
	return run
}

func (h *Handler) finishRun(ctx context.Context, run *runLog, output string, runErr error) {
	if h.store == nil || run.id == uuid.Nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if err := h.store.FinishRun(ctx, run.id, output, runErr); err != nil {
		h.logger.Warn("Failed to finish run", "run_id", run.id, "error", err)
	}
	if runErr != nil || h.archive == nil || strings.TrimSpace(output) == "" {
		return
	}

	entry := archive.Entry{
		RunID:    run.id,
		Idea:     run.idea,
		Model:    run.req.Model,
		Provider: run.req.Provider.Name,
		Analysis: output,
	}
	go func() {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		if err := h.archive.Index(ctx, entry); err != nil {
			run.logger.Warn("Failed to archive analysis", "error", err)
		}
	}()
}

func (h *Handler) deepResearch(c *gin.Context) {
	var body completion.ResearchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body")
		return
	}

	req := h.buildRequest(c.Request, body)
	if err := req.Validate(); err != nil {
		status, msg := errorResponse(err)
		c.String(status, msg)
		return
	}

	ctx := c.Request.Context()
	run := h.beginRun(ctx, body.Message, req)

	stream, err := h.completer.Complete(ctx, req)
	if err != nil {
		status, msg := errorResponse(err)
		run.logger.Error("Research request failed", "error", err, "status", status)
		h.finishRun(ctx, run, "", err)
		c.String(status, msg)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Connection", "keep-alive")
	c.Header("Cache-Control", "no-cache")
	c.Header("Text-Encoding", "chunked")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	run.logger.Info("Research stream started", "model", req.Model, "provider", req.Provider.Name)

	var output strings.Builder
	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			output.Write(buf[:n])
			if _, err := c.Writer.Write(buf[:n]); err != nil {
				run.logger.Warn("Client went away", "error", err)
				h.finishRun(ctx, run, output.String(), err)
				return
			}
			c.Writer.Flush()
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			run.logger.Error("Upstream failed mid-stream", "error", readErr, "bytes", output.Len())
			h.finishRun(ctx, run, output.String(), readErr)
			// Headers are already sent; dropping the connection is the only
			// way left to tell the client.
			panic(http.ErrAbortHandler)
		}
	}

	run.logger.Info("Research stream finished", "bytes", output.Len())
	h.finishRun(ctx, run, output.String(), nil)
}

func (h *Handler) listRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.store.GetRunLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) getRunPassages(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis search is disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	passages, err := h.archive.Passages(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if passages == nil {
		passages = []vectorstore.Passage{}
	}
	c.JSON(http.StatusOK, passages)
}

func (h *Handler) search(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis search is disabled"})
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	k, _ := strconv.Atoi(c.DefaultQuery("k", "5"))

	matches, err := h.archive.Search(c.Request.Context(), query, k)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if matches == nil {
		matches = []archive.Match{}
	}
	c.JSON(http.StatusOK, matches)
}
