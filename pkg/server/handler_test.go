package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/completion"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedStream returns one chunk per Read, then err (or io.EOF).
type scriptedStream struct {
	chunks []string
	err    error
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	if len(s.chunks) > 0 {
		n := copy(p, s.chunks[0])
		s.chunks = s.chunks[1:]
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	return 0, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type fakeCompleter struct {
	mu     sync.Mutex
	reqs   []completion.Request
	chunks []string
	midErr error
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, req completion.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &scriptedStream{chunks: append([]string(nil), f.chunks...), err: f.midErr}, nil
}

func (f *fakeCompleter) calls() []completion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion.Request(nil), f.reqs...)
}

type memoryStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*Run
	logs map[uuid.UUID][]LogEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: make(map[uuid.UUID]*Run), logs: make(map[uuid.UUID][]LogEntry)}
}

func (m *memoryStore) BeginRun(_ context.Context, r NewRun) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.runs[id] = &Run{ID: id, Idea: r.Idea, Model: r.Model, Provider: r.Provider, Status: RunStreaming, CreatedAt: time.Now()}
	return id, nil
}

func (m *memoryStore) FinishRun(_ context.Context, id uuid.UUID, output string, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	r.Status = RunCompleted
	r.Output = &output
	if runErr != nil {
		r.Status = RunFailed
		msg := runErr.Error()
		r.Error = &msg
	}
	return nil
}

func (m *memoryStore) RunLogger(_ uuid.UUID, next slog.Handler) slog.Handler { return next }

func (m *memoryStore) ListRuns(_ context.Context, _ int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memoryStore) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryStore) GetRunLogs(_ context.Context, id uuid.UUID) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[id], nil
}

func (m *memoryStore) only(t *testing.T) Run {
	t.Helper()
	runs, _ := m.ListRuns(context.Background(), 0)
	if len(runs) != 1 {
		t.Fatalf("expected exactly one run, got %d", len(runs))
	}
	return runs[0]
}

type fakeArchive struct {
	indexed  chan archive.Entry
	matches  []archive.Match
	passages map[uuid.UUID][]vectorstore.Passage
}

func (f *fakeArchive) Index(_ context.Context, e archive.Entry) error {
	f.indexed <- e
	return nil
}

func (f *fakeArchive) Search(_ context.Context, _ string, _ int) ([]archive.Match, error) {
	return f.matches, nil
}

func (f *fakeArchive) Passages(_ context.Context, runID uuid.UUID) ([]vectorstore.Passage, error) {
	return f.passages[runID], nil
}

func newTestRouter(h *Handler, limiter *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(quietLogger()))
	h.RegisterRoutes(r, limiter)
	return r
}

func researchBody(message, model, provider string, extra string) string {
	return fmt.Sprintf(`{"message":%q,"model":%q,"provider":{"name":%q}%s}`, message, model, provider, extra)
}

func postResearch(r http.Handler, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/deep-research", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeepResearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"missing model", researchBody("idea", "", "OpenAI", ""), nil, http.StatusBadRequest, "Invalid or missing model"},
		{"missing provider", researchBody("idea", "gpt-4o", "", ""), nil, http.StatusBadRequest, "Invalid or missing provider"},
		{"unknown provider", researchBody("idea", "gpt-4o", "Nope", ""), completion.ErrInvalidProvider, http.StatusBadRequest, "Invalid or missing provider"},
		{"bad key", researchBody("idea", "gpt-4o", "OpenAI", ""), fmt.Errorf("%w for provider OpenAI", completion.ErrUnauthorized), http.StatusUnauthorized, "Invalid or missing API key"},
		{"upstream", researchBody("idea", "gpt-4o", "OpenAI", ""), fmt.Errorf("%w: boom", completion.ErrUpstream), http.StatusInternalServerError, "Internal Server Error"},
		{"malformed body", `{"message":`, nil, http.StatusBadRequest, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeCompleter{err: tt.err}, nil, nil, quietLogger())
			w := postResearch(newTestRouter(h, nil), tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestDeepResearch_ValidationSkipsCompleter(t *testing.T) {
	completer := &fakeCompleter{}
	store := newMemoryStore()
	h := NewHandler(completer, store, nil, quietLogger())

	postResearch(newTestRouter(h, nil), researchBody("idea", "", "OpenAI", ""))

	if n := len(completer.calls()); n != 0 {
		t.Errorf("completer called %d times for an invalid request", n)
	}
	if runs, _ := store.ListRuns(context.Background(), 0); len(runs) != 0 {
		t.Errorf("invalid requests should not be recorded, got %d runs", len(runs))
	}
}

func TestDeepResearch_Streams(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"## Market\n", "Growing fast."}}
	store := newMemoryStore()
	arch := &fakeArchive{indexed: make(chan archive.Entry, 1)}
	h := NewHandler(completer, store, arch, quietLogger())

	w := postResearch(newTestRouter(h, nil), researchBody("dog walking app", "gpt-4o", "OpenAI", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	headers := map[string]string{
		"Content-Type":  "text/event-stream",
		"Connection":    "keep-alive",
		"Cache-Control": "no-cache",
		"Text-Encoding": "chunked",
	}
	for k, v := range headers {
		if got := w.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if got := w.Body.String(); got != "## Market\nGrowing fast." {
		t.Errorf("body = %q", got)
	}

	run := store.only(t)
	if run.Status != RunCompleted || run.Output == nil || *run.Output != "## Market\nGrowing fast." {
		t.Errorf("unexpected run record %+v", run)
	}
	if run.Idea != "dog walking app" || run.Model != "gpt-4o" || run.Provider != "OpenAI" {
		t.Errorf("run metadata not recorded: %+v", run)
	}

	select {
	case e := <-arch.indexed:
		if e.RunID != run.ID || e.Analysis != "## Market\nGrowing fast." {
			t.Errorf("unexpected archive entry %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("analysis was not archived")
	}
}

func TestDeepResearch_FailedRunIsRecorded(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(&fakeCompleter{err: completion.ErrUnauthorized}, store, nil, quietLogger())

	postResearch(newTestRouter(h, nil), researchBody("idea", "gpt-4o", "OpenAI", ""))

	run := store.only(t)
	if run.Status != RunFailed || run.Error == nil {
		t.Errorf("expected a failed run, got %+v", run)
	}
}

func TestDeepResearch_WrapsPrompt(t *testing.T) {
	completer := &fakeCompleter{}
	h := NewHandler(completer, nil, nil, quietLogger())

	postResearch(newTestRouter(h, nil), researchBody("a dog walking app", "gpt-4o", "OpenAI", ""))

	reqs := completer.calls()
	if len(reqs) != 1 {
		t.Fatalf("expected one call, got %d", len(reqs))
	}
	text := reqs[0].Text
	for _, want := range []string{"[Model: gpt-4o]", "[Provider: OpenAI]", "a dog walking app"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDeepResearch_Credentials(t *testing.T) {
	keysCookie := &http.Cookie{Name: "apiKeys", Value: url.QueryEscape(`{"OpenAI":"cookie-key","Anthropic":"a-key"}`)}
	providersCookie := &http.Cookie{Name: "providers", Value: url.QueryEscape(`{"Ollama":{"baseUrl":"http://gpu:11434"}}`)}

	tests := []struct {
		name    string
		extra   string
		cookies []*http.Cookie
		want    map[string]string
	}{
		{"none", "", nil, nil},
		{"empty body keys", `,"apiKeys":{}`, nil, map[string]string{}},
		{"cookie only", "", []*http.Cookie{keysCookie}, map[string]string{"OpenAI": "cookie-key", "Anthropic": "a-key"}},
		{"body overrides cookie", `,"apiKeys":{"OpenAI":"body-key"}`, []*http.Cookie{keysCookie}, map[string]string{"OpenAI": "body-key", "Anthropic": "a-key"}},
		{"malformed cookie ignored", "", []*http.Cookie{{Name: "apiKeys", Value: "not-json"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{}
			h := NewHandler(completer, nil, nil, quietLogger())
			cookies := append([]*http.Cookie{providersCookie}, tt.cookies...)

			postResearch(newTestRouter(h, nil), researchBody("idea", "gpt-4o", "OpenAI", tt.extra), cookies...)

			reqs := completer.calls()
			if len(reqs) != 1 {
				t.Fatalf("expected one call, got %d", len(reqs))
			}
			got := reqs[0].Credentials
			if (got == nil) != (tt.want == nil) || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("credentials = %#v, want %#v", got, tt.want)
			}
			if reqs[0].Settings["Ollama"].BaseURL != "http://gpu:11434" {
				t.Errorf("provider settings not read from cookie: %#v", reqs[0].Settings)
			}
		})
	}
}

type display struct {
	mu     sync.Mutex
	values []string
}

func (d *display) set(v string) {
	d.mu.Lock()
	d.values = append(d.values, v)
	d.mu.Unlock()
}

func (d *display) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.values...)
}

func runController(t *testing.T, srv *httptest.Server, text string) (*research.Controller, []string) {
	t.Helper()
	c := research.NewController(completion.NewHTTPClient(srv.URL), research.WithLogger(quietLogger()))
	d := &display{}

	done := c.Start(context.Background(), text, d.set, "gpt-4o", completion.ProviderInfo{Name: "OpenAI"}, nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("research session did not finish")
	}
	return c, d.snapshot()
}

func TestEndToEnd_ControllerOverHTTP(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"Part one. ", "Part two."}}
	srv := httptest.NewServer(newTestRouter(NewHandler(completer, nil, nil, quietLogger()), nil))
	defer srv.Close()

	c, values := runController(t, srv, "my idea")

	if len(values) < 2 || values[0] != "" {
		t.Fatalf("display should be cleared first, got %q", values)
	}
	if last := values[len(values)-1]; last != "Part one. Part two." {
		t.Errorf("final display = %q", last)
	}
	if f := c.Flags(); f.IsResearching || !f.ResearchComplete {
		t.Errorf("flags = %+v", f)
	}
}

func TestEndToEnd_MidStreamFailureRevertsDisplay(t *testing.T) {
	completer := &fakeCompleter{chunks: []string{"Hello"}, midErr: errors.New("upstream reset")}
	store := newMemoryStore()
	srv := httptest.NewServer(newTestRouter(NewHandler(completer, store, nil, quietLogger()), nil))
	defer srv.Close()

	c, values := runController(t, srv, "my idea")

	n := len(values)
	if n < 3 {
		t.Fatalf("too few display writes: %q", values)
	}
	if values[n-2] != "my idea" {
		t.Errorf("display should revert to the original text, got %q", values)
	}
	if values[n-1] != "Hello" {
		t.Errorf("final display should hold the partial output, got %q", values[n-1])
	}
	if !c.ResearchComplete() {
		t.Error("research should be complete after a failure")
	}

	run := store.only(t)
	if run.Status != RunFailed || run.Output == nil || *run.Output != "Hello" {
		t.Errorf("unexpected run record %+v", run)
	}
}

func TestEndToEnd_UnauthorizedLeavesDisplay(t *testing.T) {
	completer := &fakeCompleter{err: completion.ErrUnauthorized}
	srv := httptest.NewServer(newTestRouter(NewHandler(completer, nil, nil, quietLogger()), nil))
	defer srv.Close()

	_, values := runController(t, srv, "my idea")

	if want := []string{""}; !reflect.DeepEqual(values, want) {
		t.Errorf("display = %q, want only the final empty write %q", values, want)
	}
}

func TestRunRoutes(t *testing.T) {
	store := newMemoryStore()
	id, _ := store.BeginRun(context.Background(), NewRun{Idea: "idea", Model: "m", Provider: "p"})
	router := newTestRouter(NewHandler(&fakeCompleter{}, store, nil, quietLogger()), nil)
	disabled := newTestRouter(NewHandler(&fakeCompleter{}, nil, nil, quietLogger()), nil)

	tests := []struct {
		name   string
		router http.Handler
		path   string
		status int
	}{
		{"list", router, "/api/deep-research/runs", http.StatusOK},
		{"get", router, "/api/deep-research/runs/" + id.String(), http.StatusOK},
		{"get missing", router, "/api/deep-research/runs/" + uuid.NewString(), http.StatusNotFound},
		{"get invalid id", router, "/api/deep-research/runs/nope", http.StatusBadRequest},
		{"logs", router, "/api/deep-research/runs/" + id.String() + "/logs", http.StatusOK},
		{"history disabled", disabled, "/api/deep-research/runs", http.StatusServiceUnavailable},
		{"search disabled", disabled, "/api/deep-research/search?q=dogs", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestSearchRoute(t *testing.T) {
	arch := &fakeArchive{matches: []archive.Match{{RunID: uuid.New(), Idea: "dog app", Excerpt: "pets", Score: 0.9}}}
	router := newTestRouter(NewHandler(&fakeCompleter{}, nil, arch, quietLogger()), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/deep-research/search?q=pets&k=3", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "dog app") {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/deep-research/search", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d", w.Code)
	}
}

func TestRunPassagesRoute(t *testing.T) {
	runID := uuid.New()
	arch := &fakeArchive{passages: map[uuid.UUID][]vectorstore.Passage{
		runID: {
			{RunID: runID, ChunkIndex: 0, Content: "## Market"},
			{RunID: runID, ChunkIndex: 1, Content: "Growing fast."},
		},
	}}
	router := newTestRouter(NewHandler(&fakeCompleter{}, nil, arch, quietLogger()), nil)
	disabled := newTestRouter(NewHandler(&fakeCompleter{}, nil, nil, quietLogger()), nil)

	tests := []struct {
		name     string
		router   http.Handler
		path     string
		status   int
		contains string
	}{
		{"found", router, "/api/deep-research/runs/" + runID.String() + "/passages", http.StatusOK, "Growing fast."},
		{"unknown run", router, "/api/deep-research/runs/" + uuid.NewString() + "/passages", http.StatusOK, "[]"},
		{"invalid id", router, "/api/deep-research/runs/nope/passages", http.StatusBadRequest, "invalid uuid"},
		{"archive disabled", disabled, "/api/deep-research/runs/" + runID.String() + "/passages", http.StatusServiceUnavailable, "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.status || !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("status = %d body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRecovery_InternalPanic(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(quietLogger()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}
