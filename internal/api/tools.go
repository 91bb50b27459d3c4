package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/executor"
	"github.com/toolgate/toolgate/internal/middleware"
	"github.com/toolgate/toolgate/internal/usage"
)

// maxArgumentBytes bounds a tool call's JSON body.
const maxArgumentBytes = 1 << 20

// ToolHandlers serves the tool catalog and forwards admitted calls to the executor.
type ToolHandlers struct {
	exec     executor.Executor
	recorder *usage.Recorder
	logger   *slog.Logger
}

// NewToolHandlers creates a new ToolHandlers instance. recorder may be nil.
func NewToolHandlers(exec executor.Executor, recorder *usage.Recorder, logger *slog.Logger) *ToolHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolHandlers{
		exec:     exec,
		recorder: recorder,
		logger:   logger.With("component", "tools"),
	}
}

// ListToolsHandler returns every tool the gateway can forward.
// GET /v1/tools
func (h *ToolHandlers) ListToolsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tools := executor.Tools()
		c.JSON(http.StatusOK, gin.H{
			"tools": tools,
			"count": len(tools),
		})
	}
}

// CallToolHandler runs one tool call. It must be mounted behind
// middleware.ToolGateMiddleware so the caller has already been admitted.
// POST /v1/tools/:name
func (h *ToolHandlers) CallToolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if _, ok := executor.Lookup(name); !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error":           "Unknown tool: " + name,
				"available_tools": executor.Tools(),
			})
			return
		}

		args, argSize, err := readArguments(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Request body must be a JSON object of tool arguments",
			})
			return
		}

		start := time.Now()
		res, err := h.exec.Execute(c.Request.Context(), name, args)
		elapsed := time.Since(start)

		entry := h.usageEntry(c, name, elapsed)
		entry.RequestSize = argSize
		if err != nil {
			status, message := h.failure(name, err)
			c.JSON(status, gin.H{"error": message})
			entry.Success = false
			entry.ErrorMessage = message
			h.recorder.Record(entry)
			return
		}

		body := gin.H{
			"tool":   name,
			"result": res.Data,
		}
		if res.Credits != nil {
			body["credits"] = res.Credits
		}
		c.JSON(http.StatusOK, body)

		entry.Success = true
		entry.ResponseSize = res.ResponseSize
		h.recorder.Record(entry)
	}
}

// usageEntry starts the usage record for the admitted caller. Unauthenticated
// callers get an entry without a key id, which the recorder ignores.
func (h *ToolHandlers) usageEntry(c *gin.Context, tool string, elapsed time.Duration) usage.Entry {
	e := usage.Entry{ToolName: tool, Duration: elapsed}
	if ac := middleware.GetAuthContext(c); ac != nil {
		e.KeyID = ac.KeyID
		e.IPAddress = ac.Request.IPAddress
		e.UserAgent = ac.Request.UserAgent
	}
	return e
}

func (h *ToolHandlers) failure(tool string, err error) (int, string) {
	var upErr *executor.UpstreamError
	switch {
	case errors.As(err, &upErr):
		h.logger.Warn("upstream tool call failed", "tool", tool, "status", upErr.StatusCode, "error", upErr.Message)
		if upErr.StatusCode >= 400 && upErr.StatusCode < 500 {
			return upErr.StatusCode, upErr.Message
		}
		return http.StatusBadGateway, upErr.Message
	case errors.Is(err, executor.ErrMissingCredential):
		h.logger.Error("upstream credential is not configured", "tool", tool)
		return http.StatusServiceUnavailable, "Tool server credential is not configured"
	default:
		h.logger.Error("tool call failed", "tool", tool, "error", err)
		return http.StatusBadGateway, "Tool server request failed"
	}
}

// readArguments decodes the body as a JSON object. An empty body means no arguments.
// The returned size is the length of the arguments as compact JSON.
func readArguments(c *gin.Context) (map[string]any, int, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxArgumentBytes+1))
	if err != nil {
		return nil, 0, err
	}
	if len(data) > maxArgumentBytes {
		return nil, 0, errors.New("arguments too large")
	}
	args := map[string]any{}
	if strings.TrimSpace(string(data)) != "" {
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, 0, err
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, 0, err
	}
	return args, len(encoded), nil
}
