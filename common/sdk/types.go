package sdk

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// The SDK carries its own wire types so consumers do not link the
// server's internals. Shapes track the /api/v1 JSON exactly.

// Agent is an LLM agent definition
type Agent struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Description  *string                `json:"description,omitempty"`
	Provider     string                 `json:"provider"`
	Model        string                 `json:"model"`
	Instructions string                 `json:"instructions"`
	Temperature  float64                `json:"temperature"`
	MaxTokens    *int                   `json:"max_tokens,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	Tools        []*Tool                `json:"tools,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// CreateAgentRequest is the body for POST /api/v1/agents
type CreateAgentRequest struct {
	Name         string                 `json:"name"`
	Description  *string                `json:"description,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Instructions string                 `json:"instructions"`
	Temperature  *float64               `json:"temperature,omitempty"`
	MaxTokens    *int                   `json:"max_tokens,omitempty"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	ToolIDs      []uuid.UUID            `json:"tool_ids,omitempty"`
}

// Tool is a callable tool definition
type Tool struct {
	ID             uuid.UUID              `json:"id"`
	Name           string                 `json:"name"`
	Description    *string                `json:"description,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Implementation string                 `json:"implementation"`
	Config         map[string]interface{} `json:"config,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// CreateToolRequest is the body for POST /api/v1/tools
type CreateToolRequest struct {
	Name           string                 `json:"name"`
	Description    *string                `json:"description,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Implementation string                 `json:"implementation"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// Workflow is a graph definition
type Workflow struct {
	ID          uuid.UUID              `json:"id"`
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	StateSchema map[string]interface{} `json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTemplate  bool                   `json:"is_template"`
	Nodes       []*WorkflowNode        `json:"nodes,omitempty"`
	Edges       []*WorkflowEdge        `json:"edges,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// WorkflowNode is one node of a stored workflow graph
type WorkflowNode struct {
	ID                 uuid.UUID              `json:"id"`
	WorkflowID         uuid.UUID              `json:"workflow_id"`
	NodeID             string                 `json:"node_id"`
	NodeType           string                 `json:"node_type"`
	AgentID            *uuid.UUID             `json:"agent_id,omitempty"`
	RouterConfig       map[string]interface{} `json:"router_config,omitempty"`
	ParallelNodes      []string               `json:"parallel_nodes,omitempty"`
	SubgraphWorkflowID *uuid.UUID             `json:"subgraph_workflow_id,omitempty"`
	Config             map[string]interface{} `json:"config,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// WorkflowEdge is a directed edge between two nodes
type WorkflowEdge struct {
	ID         uuid.UUID `json:"id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	SourceNode string    `json:"source_node"`
	TargetNode string    `json:"target_node"`
	Condition  *string   `json:"condition,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeDef describes one node in a workflow create request
type NodeDef struct {
	NodeID             string                 `json:"node_id"`
	NodeType           string                 `json:"node_type"`
	AgentID            *uuid.UUID             `json:"agent_id,omitempty"`
	RouterConfig       map[string]interface{} `json:"router_config,omitempty"`
	ParallelNodes      []string               `json:"parallel_nodes,omitempty"`
	SubgraphWorkflowID *uuid.UUID             `json:"subgraph_workflow_id,omitempty"`
	Config             map[string]interface{} `json:"config,omitempty"`
}

// EdgeDef describes one edge in a workflow create request
type EdgeDef struct {
	SourceNode string  `json:"source_node"`
	TargetNode string  `json:"target_node"`
	Condition  *string `json:"condition,omitempty"`
}

// CreateWorkflowRequest is the body for POST /api/v1/workflows
type CreateWorkflowRequest struct {
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	StateSchema map[string]interface{} `json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTemplate  bool                   `json:"is_template"`
	Nodes       []NodeDef              `json:"nodes"`
	Edges       []EdgeDef              `json:"edges"`
}

// Execution is one run of a workflow
type Execution struct {
	ID           uuid.UUID              `json:"id"`
	WorkflowID   uuid.UUID              `json:"workflow_id"`
	ThreadID     string                 `json:"thread_id"`
	Status       string                 `json:"status"`
	InputData    map[string]interface{} `json:"input_data,omitempty"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Steps        []*ExecutionStep       `json:"steps,omitempty"`
}

// ExecutionStep is one node invocation within an execution
type ExecutionStep struct {
	ID           uuid.UUID              `json:"id"`
	ExecutionID  uuid.UUID              `json:"execution_id"`
	NodeID       string                 `json:"node_id"`
	NodeType     string                 `json:"node_type"`
	Status       string                 `json:"status"`
	InputData    map[string]interface{} `json:"input_data,omitempty"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// ExecuteRequest is the body for POST /api/v1/executions
type ExecuteRequest struct {
	WorkflowID uuid.UUID              `json:"workflow_id"`
	Input      map[string]interface{} `json:"input,omitempty"`
	ThreadID   *string                `json:"thread_id,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// ExecutionProgress summarises step completion
type ExecutionProgress struct {
	CompletedNodes int     `json:"completed_nodes"`
	TotalNodes     int     `json:"total_nodes"`
	CurrentNode    *string `json:"current_node,omitempty"`
	Percentage     int     `json:"percentage"`
}

// ExecutionStatus is the body of GET /api/v1/executions/:id/status
type ExecutionStatus struct {
	ID           uuid.UUID              `json:"id"`
	WorkflowID   uuid.UUID              `json:"workflow_id"`
	ThreadID     string                 `json:"thread_id"`
	Status       string                 `json:"status"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Progress     *ExecutionProgress     `json:"progress,omitempty"`
}

// Health is the body of GET /health
type Health struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	Checkpoint string `json:"checkpoint"`
}

// Event is one frame from an execution event stream
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// List envelopes returned by collection endpoints

type AgentList struct {
	Items    []*Agent `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type ToolList struct {
	Items    []*Tool `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

type WorkflowList struct {
	Items    []*Workflow `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

type ExecutionList struct {
	Items    []*Execution `json:"items"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}
