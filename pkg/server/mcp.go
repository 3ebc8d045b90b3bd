package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mikeboe/deep-research/pkg/completion"
	"github.com/mikeboe/deep-research/pkg/prompt"
)

const mcpProtocolVersion = "2024-11-05"

type MCPSession struct {
	ID      string
	Created int64
}

// MCPRequest is a JSON-RPC request.
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type deepResearchArgs struct {
	Idea     string `json:"idea"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

type searchArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type getRunArgs struct {
	ID string `json:"id"`
}

// MCPHandler serves the deep-research tools over MCP's streamable HTTP
// transport, answering every request with a single JSON response.
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			Error:   &MCPError{Code: -32700, Message: "Parse error"},
		})
		return
	}

	if req.Method == "initialize" {
		// Session ids are issued here; an unknown client-supplied id gets replaced.
		h.sessionMu.Lock()
		if _, ok := h.sessions[sessionID]; !ok {
			sessionID = uuid.New().String()
			h.sessions[sessionID] = &MCPSession{ID: sessionID, Created: time.Now().Unix()}
		}
		h.sessionMu.Unlock()
		c.Header("Mcp-Session-Id", sessionID)

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": mcpProtocolVersion,
				"serverInfo": map[string]interface{}{
					"name":    "deep-research-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: -32000, Message: "Bad Request: No valid session ID provided"},
		})
		return
	}

	h.sessionMu.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionMu.RUnlock()
	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: -32000, Message: "Invalid session ID"},
		})
		return
	}

	switch req.Method {
	case "notifications/initialized":
		c.Status(http.StatusAccepted)
	case "tools/list":
		h.sendResult(c, req.ID, map[string]interface{}{"tools": mcpTools()})
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		h.sendResult(c, req.ID, map[string]interface{}{})
	default:
		h.sendError(c, req.ID, -32601, "Method not found")
	}
}

func mcpTools() []map[string]interface{} {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return []map[string]interface{}{
		{
			"name":        "deep_research",
			"description": "Run a market analysis for an app idea and return the full report.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"idea":     str("The app idea to analyse."),
					"model":    str("Model name, e.g. gpt-4o."),
					"provider": str("Provider name, e.g. OpenAI."),
				},
				"required": []string{"idea", "model", "provider"},
			},
		},
		{
			"name":        "search_analyses",
			"description": "Semantic search over previously generated analyses.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": str("The search query."),
					"topK": map[string]interface{}{
						"type":        "number",
						"description": "The number of results to return.",
						"default":     5,
					},
				},
				"required": []string{"query"},
			},
		},
		{
			"name":        "get_run",
			"description": "Fetch a recorded research run by id.",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": str("The run id.")},
				"required":   []string{"id"},
			},
		},
	}
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid params")
		return
	}

	switch params.Name {
	case "deep_research":
		var args deepResearchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		text, err := h.runResearch(c, args)
		if err != nil {
			h.sendToolError(c, req.ID, err.Error())
			return
		}
		h.sendText(c, req.ID, text)

	case "search_analyses":
		if h.archive == nil {
			h.sendToolError(c, req.ID, "analysis search is disabled")
			return
		}
		var args searchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || strings.TrimSpace(args.Query) == "" {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		matches, err := h.archive.Search(c.Request.Context(), args.Query, args.TopK)
		if err != nil {
			h.sendError(c, req.ID, -32603, err.Error())
			return
		}
		var sb strings.Builder
		for i, m := range matches {
			fmt.Fprintf(&sb, "%d. [%s] %s (score %.3f)\n%s\n\n", i+1, m.RunID, m.Idea, m.Score, m.Excerpt)
		}
		if sb.Len() == 0 {
			sb.WriteString("No matching analyses found.")
		}
		h.sendText(c, req.ID, strings.TrimSpace(sb.String()))

	case "get_run":
		if h.store == nil {
			h.sendToolError(c, req.ID, "run history is disabled")
			return
		}
		var args getRunArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			h.sendError(c, req.ID, -32602, "Invalid arguments")
			return
		}
		id, err := uuid.Parse(args.ID)
		if err != nil {
			h.sendError(c, req.ID, -32602, "invalid uuid")
			return
		}
		run, err := h.store.GetRun(c.Request.Context(), id)
		if err != nil {
			h.sendToolError(c, req.ID, err.Error())
			return
		}
		data, _ := json.MarshalIndent(run, "", "  ")
		h.sendText(c, req.ID, string(data))

	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

// runResearch drives a full completion and returns the collected text. Only
// server-side credentials are used.
func (h *Handler) runResearch(c *gin.Context, args deepResearchArgs) (string, error) {
	req := completion.Request{
		Text:     prompt.MarketAnalysis(args.Model, args.Provider, args.Idea),
		Model:    args.Model,
		Provider: completion.ProviderInfo{Name: args.Provider},
	}
	if err := req.Validate(); err != nil {
		_, msg := errorResponse(err)
		return "", errors.New(msg)
	}

	ctx := c.Request.Context()
	run := h.beginRun(ctx, args.Idea, req)

	stream, err := h.completer.Complete(ctx, req)
	if err != nil {
		run.logger.Error("Research request failed", "error", err)
		h.finishRun(ctx, run, "", err)
		_, msg := errorResponse(err)
		return "", errors.New(msg)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		run.logger.Error("Upstream failed mid-stream", "error", err)
		h.finishRun(ctx, run, string(data), err)
		return "", fmt.Errorf("research stream failed: %w", err)
	}

	h.finishRun(ctx, run, string(data), nil)
	return string(data), nil
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: msg},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, result interface{}) {
	c.JSON(http.StatusOK, MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (h *Handler) sendText(c *gin.Context, id interface{}, text string) {
	h.sendResult(c, id, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
	})
}

// sendToolError reports a tool failure as a result, so the calling model can see it.
func (h *Handler) sendToolError(c *gin.Context, id interface{}, msg string) {
	h.sendResult(c, id, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": msg}},
		"isError": true,
	})
}
