package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteTool forwards invocations to an operator-configured HTTP
// endpoint. Arguments are POSTed as a JSON object; a 2xx response body
// becomes the tool output (parsed as JSON when possible).
//
// Unlike the http_request builtin the destination is not screened: the
// endpoint comes from the tool record, not from the model.
type RemoteTool struct {
	name    string
	url     string
	client  *http.Client
	maxSize int
}

// NewRemoteTool creates an HTTP-backed custom tool.
func NewRemoteTool(name, url string, timeout float64) *RemoteTool {
	d := defaultHTTPTimeout
	if timeout > 0 {
		d = time.Duration(timeout * float64(time.Second))
	}
	return &RemoteTool{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: d},
		maxSize: defaultMaxResponseSize,
	}
}

func (t *RemoteTool) Name() string { return t.name }

func (t *RemoteTool) Description() string {
	return fmt.Sprintf("Invoke the %s tool", t.name)
}

func (t *RemoteTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

func (t *RemoteTool) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	if args == nil {
		args = map[string]interface{}{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return Errorf("failed to encode arguments: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return Errorf("invalid tool endpoint: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Errorf("request cancelled: %v", ctx.Err())
		}
		return Errorf("tool endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxSize)))
	if err != nil {
		return Errorf("failed to read tool response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Errorf("tool endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Ok(string(data))
	}

	// Endpoints may answer in the ToolResult envelope; unwrap it so the
	// agent sees the payload, not the wrapper.
	if m, ok := parsed.(map[string]interface{}); ok {
		if success, hasSuccess := m["success"].(bool); hasSuccess {
			if !success {
				msg, _ := m["error"].(string)
				if msg == "" {
					msg = "tool reported failure"
				}
				return Errorf("%s", msg)
			}
			if output, hasOutput := m["output"]; hasOutput {
				return Ok(output)
			}
		}
	}
	return Ok(parsed)
}
