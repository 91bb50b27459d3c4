// Package executor runs admitted tool calls against the upstream tool server.
// The gateway treats the tool server as opaque: arguments are forwarded as JSON and
// the JSON reply is returned unchanged, together with any credit headers the
// upstream reports.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/auth"
)

// maxResponseBytes bounds how much of an upstream reply is read.
const maxResponseBytes = 10 << 20

var (
	// ErrUnknownTool is returned for tool names missing from the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMissingCredential is returned when no upstream API key is configured.
	ErrMissingCredential = errors.New("upstream API key is required")
)

// Endpoint is the upstream route serving one tool.
type Endpoint struct {
	Method string
	Path   string
}

var catalog = map[string]Endpoint{
	auth.ToolParse:      {Method: http.MethodPost, Path: "/v1/parse"},
	auth.ToolValidate:   {Method: http.MethodPost, Path: "/v1/validate"},
	auth.ToolGrammar:    {Method: http.MethodGet, Path: "/v1/grammar"},
	auth.ToolRenderHTML: {Method: http.MethodPost, Path: "/v1/render/html"},
	auth.ToolRenderSVG:  {Method: http.MethodPost, Path: "/v1/render/svg"},
	auth.ToolRender:     {Method: http.MethodPost, Path: "/v1/render"},
}

// Lookup returns the endpoint for tool.
func Lookup(tool string) (Endpoint, bool) {
	ep, ok := catalog[tool]
	return ep, ok
}

// Tools lists every tool in the catalog in tier order.
func Tools() []string {
	tools := make([]string, 0, len(catalog))
	for _, t := range auth.AllTools() {
		if _, ok := catalog[t]; ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// Credits is the upstream account balance reported alongside a reply.
type Credits struct {
	Balance          *int `json:"balance,omitempty"`
	MonthlyRemaining *int `json:"monthly_remaining,omitempty"`
	TotalAvailable   *int `json:"total_available,omitempty"`
}

// Result is a successful tool reply.
type Result struct {
	Data         json.RawMessage
	Credits      *Credits
	RequestSize  int
	ResponseSize int
}

// Executor runs one tool call.
type Executor interface {
	Execute(ctx context.Context, tool string, args map[string]any) (*Result, error)
}

// UpstreamError is a non-2xx reply from the tool server.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// HTTPExecutor forwards calls to the tool server over HTTP.
type HTTPExecutor struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPExecutor creates an executor for the tool server at baseURL.
func NewHTTPExecutor(baseURL, apiKey string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ValidateBaseURL checks that u is an absolute http(s) URL.
func ValidateBaseURL(u string) error {
	if u == "" {
		return fmt.Errorf("upstream URL cannot be empty")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("upstream URL must have a host")
	}
	return nil
}

// Execute calls tool with args.
func (h *HTTPExecutor) Execute(ctx context.Context, tool string, args map[string]any) (*Result, error) {
	ep, ok := catalog[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if h.APIKey == "" {
		return nil, ErrMissingCredential
	}

	req, size, err := h.buildRequest(ctx, ep, args)
	if err != nil {
		return nil, err
	}

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &payload)
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(resp.StatusCode, payload.Error, payload.Message),
		}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned a non-JSON response")
	}

	return &Result{
		Data:         body,
		Credits:      creditsFrom(resp.Header),
		RequestSize:  size,
		ResponseSize: len(body),
	}, nil
}

// buildRequest encodes args as a JSON body for write methods and as query
// parameters for GET. Slice values are joined with commas.
func (h *HTTPExecutor) buildRequest(ctx context.Context, ep Endpoint, args map[string]any) (*http.Request, int, error) {
	target := h.BaseURL + ep.Path
	var body io.Reader
	size := 0

	switch ep.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if len(args) > 0 {
			data, err := json.Marshal(args)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to encode tool arguments: %w", err)
			}
			body = bytes.NewReader(data)
			size = len(data)
		}
	case http.MethodGet:
		if len(args) > 0 {
			q := url.Values{}
			for k, v := range args {
				if v == nil {
					continue
				}
				q.Set(k, queryValue(v))
			}
			if enc := q.Encode(); enc != "" {
				target += "?" + enc
				size = len(enc)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", h.APIKey)
	return req, size, nil
}

func queryValue(v any) string {
	items, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ",")
}

func upstreamMessage(status int, errText, message string) string {
	switch {
	case status == http.StatusUnauthorized:
		return "Invalid upstream API key"
	case status == http.StatusPaymentRequired:
		if message == "" {
			message = "Please add more credits."
		}
		return "Insufficient credits. " + message
	case status == http.StatusForbidden:
		return "Access denied. Upgrade your plan for this feature."
	case status == http.StatusTooManyRequests:
		return "Rate limit exceeded. Please wait and try again."
	case status >= 500:
		return "Service temporarily unavailable"
	case errText != "":
		return errText
	case message != "":
		return message
	}
	return "Request failed"
}

// creditsFrom reads the credit headers. It returns nil unless a balance or total is present.
func creditsFrom(h http.Header) *Credits {
	c := &Credits{
		Balance:          headerInt(h, "X-Credits-Balance"),
		MonthlyRemaining: headerInt(h, "X-Credits-Monthly-Remaining"),
		TotalAvailable:   headerInt(h, "X-Credits-Total-Available"),
	}
	if c.Balance == nil && c.TotalAvailable == nil {
		return nil
	}
	return c
}

func headerInt(h http.Header, name string) *int {
	v := h.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
