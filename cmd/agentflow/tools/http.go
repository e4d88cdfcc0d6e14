package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultMaxResponseSize = 100_000
)

// HTTPTool performs GET and POST requests on behalf of an agent. Targets
// are screened against SSRF-style destinations unless AllowLocal is set.
type HTTPTool struct {
	client          *http.Client
	maxResponseSize int
	guard           urlGuard
}

// HTTPToolOptions tunes an HTTPTool. Zero values pick the defaults
// (30s timeout, 100000 byte response cap, guard enabled).
type HTTPToolOptions struct {
	Timeout         float64
	MaxResponseSize int
	AllowLocal      bool
}

// NewHTTPTool creates the http_request builtin.
func NewHTTPTool(opts HTTPToolOptions) *HTTPTool {
	timeout := defaultHTTPTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout * float64(time.Second))
	}
	maxSize := defaultMaxResponseSize
	if opts.MaxResponseSize > 0 {
		maxSize = opts.MaxResponseSize
	}
	return &HTTPTool{
		client:          &http.Client{Timeout: timeout},
		maxResponseSize: maxSize,
		guard:           urlGuard{allowLocal: opts.AllowLocal},
	}
}

func (t *HTTPTool) Name() string { return "http_request" }

func (t *HTTPTool) Description() string {
	return "Make an HTTP request to a URL. Supports GET and POST methods. " +
		"Returns the response body as text."
}

func (t *HTTPTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to request",
			},
			"method": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"GET", "POST"},
				"description": "HTTP method (default: GET)",
				"default":     "GET",
			},
			"headers": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "string"},
				"description":          "Optional request headers",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Optional request body (for POST)",
			},
		},
		"required": []interface{}{"url"},
	}
}

func (t *HTTPTool) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return Errorf("url is required")
	}

	method := "GET"
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return Errorf("unsupported HTTP method: %s", method)
	}

	if err := t.guard.Validate(rawURL); err != nil {
		return Errorf("URL rejected: %v", err)
	}

	var body io.Reader
	if method == http.MethodPost {
		if b, ok := args["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Errorf("invalid request: %v", err)
	}
	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Errorf("request cancelled: %v", ctx.Err())
		}
		return Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > int64(t.maxResponseSize) {
		return Errorf("response too large: %d bytes", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxResponseSize)+1))
	if err != nil {
		return Errorf("failed to read response: %v", err)
	}
	if len(data) > t.maxResponseSize {
		data = data[:t.maxResponseSize]
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for key := range resp.Header {
		headers[strings.ToLower(key)] = resp.Header.Get(key)
	}

	return Ok(map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(data),
	})
}
