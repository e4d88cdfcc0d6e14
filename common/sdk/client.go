// Package sdk is the Go client for the agentflow HTTP API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client talks to an agentflow server
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

// New creates a client for the server at baseURL. apiKey may be empty
// when the server runs without authentication.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		// Event streams outlive any sane request timeout
		stream: &http.Client{},
	}
}

// APIError is the server's error envelope plus the HTTP status
type APIError struct {
	Status  int
	Kind    string
	Message string
	Details map[string]interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agentflow api: %s (%s, status %d)", e.Message, e.Kind, e.Status)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	return client.Do(req)
}

// call runs a request and decodes the JSON response into out (nil for
// endpoints without a body)
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.do(ctx, c.http, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiErrorFrom(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(body) == 0 {
		apiErr.Kind = "unknown"
		apiErr.Message = resp.Status
		return apiErr
	}

	var envelope struct {
		Error   string                 `json:"error"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == "" {
		apiErr.Kind = "unknown"
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Kind = envelope.Error
	apiErr.Message = envelope.Message
	apiErr.Details = envelope.Details
	return apiErr
}

func pageQuery(page, pageSize int) string {
	if page <= 0 && pageSize <= 0 {
		return ""
	}
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	return "?" + query.Encode()
}

// Health reports server and store status. Degraded servers answer 503
// with the same body, which is not an error at this level.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.do(ctx, c.http, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, apiErrorFrom(resp)
	}
	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Agents

func (c *Client) CreateAgent(ctx context.Context, req *CreateAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.call(ctx, http.MethodPost, "/api/v1/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	var agent Agent
	if err := c.call(ctx, http.MethodGet, "/api/v1/agents/"+id.String(), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (c *Client) ListAgents(ctx context.Context, page, pageSize int) (*AgentList, error) {
	var list AgentList
	if err := c.call(ctx, http.MethodGet, "/api/v1/agents"+pageQuery(page, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/agents/"+id.String(), nil, nil)
}

// BindAgentTool attaches a tool to an agent and returns the refreshed agent
func (c *Client) BindAgentTool(ctx context.Context, agentID, toolID uuid.UUID) (*Agent, error) {
	var agent Agent
	path := "/api/v1/agents/" + agentID.String() + "/tools/" + toolID.String()
	if err := c.call(ctx, http.MethodPost, path, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// Tools

func (c *Client) CreateTool(ctx context.Context, req *CreateToolRequest) (*Tool, error) {
	var tool Tool
	if err := c.call(ctx, http.MethodPost, "/api/v1/tools", req, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

func (c *Client) GetTool(ctx context.Context, id uuid.UUID) (*Tool, error) {
	var tool Tool
	if err := c.call(ctx, http.MethodGet, "/api/v1/tools/"+id.String(), nil, &tool); err != nil {
		return nil, err
	}
	return &tool, nil
}

func (c *Client) ListTools(ctx context.Context, page, pageSize int) (*ToolList, error) {
	var list ToolList
	if err := c.call(ctx, http.MethodGet, "/api/v1/tools"+pageQuery(page, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) DeleteTool(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/tools/"+id.String(), nil, nil)
}

// Workflows

func (c *Client) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*Workflow, error) {
	var wf Workflow
	if err := c.call(ctx, http.MethodPost, "/api/v1/workflows", req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var wf Workflow
	if err := c.call(ctx, http.MethodGet, "/api/v1/workflows/"+id.String(), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) ListWorkflows(ctx context.Context, page, pageSize int) (*WorkflowList, error) {
	var list WorkflowList
	if err := c.call(ctx, http.MethodGet, "/api/v1/workflows"+pageQuery(page, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/workflows/"+id.String(), nil, nil)
}

// CloneWorkflow copies a workflow or template under a new name. An
// empty name lets the server pick one.
func (c *Client) CloneWorkflow(ctx context.Context, id uuid.UUID, name string) (*Workflow, error) {
	body := map[string]interface{}{}
	if name != "" {
		body["name"] = name
	}
	var wf Workflow
	if err := c.call(ctx, http.MethodPost, "/api/v1/workflows/"+id.String()+"/clone", body, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Executions

// Execute runs a workflow to completion and returns the final record
// with its steps. Long workflows should prefer StreamExecution.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*Execution, error) {
	var exec Execution
	if err := c.call(ctx, http.MethodPost, "/api/v1/executions", req, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var exec Execution
	if err := c.call(ctx, http.MethodGet, "/api/v1/executions/"+id.String(), nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) GetExecutionStatus(ctx context.Context, id uuid.UUID) (*ExecutionStatus, error) {
	var status ExecutionStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/executions/"+id.String()+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) ListExecutions(ctx context.Context, page, pageSize int) (*ExecutionList, error) {
	var list ExecutionList
	if err := c.call(ctx, http.MethodGet, "/api/v1/executions"+pageQuery(page, pageSize), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CancelExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var exec Execution
	if err := c.call(ctx, http.MethodPost, "/api/v1/executions/"+id.String()+"/cancel", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) ResumeExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var exec Execution
	if err := c.call(ctx, http.MethodPost, "/api/v1/executions/"+id.String()+"/resume", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) RestartExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	var exec Execution
	if err := c.call(ctx, http.MethodPost, "/api/v1/executions/"+id.String()+"/restart", nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *Client) DeleteExecution(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/executions/"+id.String(), nil, nil)
}

func (c *Client) ListExecutionSteps(ctx context.Context, id uuid.UUID) ([]*ExecutionStep, error) {
	var steps []*ExecutionStep
	if err := c.call(ctx, http.MethodGet, "/api/v1/executions/"+id.String()+"/steps", nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}
