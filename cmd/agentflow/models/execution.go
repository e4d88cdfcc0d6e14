package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of an execution
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
// other than resume/restart
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Execution represents one run of a workflow
// Maps to: executions table; owns its steps (cascade-delete)
type Execution struct {
	ID         uuid.UUID `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`

	// Stable across resume; fresh on restart
	ThreadID string `db:"thread_id" json:"thread_id"`

	Status       ExecutionStatus        `db:"status" json:"status"`
	InputData    map[string]interface{} `db:"input_data" json:"input_data,omitempty"`
	OutputData   map[string]interface{} `db:"output_data" json:"output_data,omitempty"`
	ErrorMessage *string                `db:"error_message" json:"error_message,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	Steps []*ExecutionStep `json:"steps,omitempty"`
}

// ExecutionStep represents one node invocation within an execution
// Maps to: execution_steps table
type ExecutionStep struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`

	// Local node identifier within the workflow
	NodeID   string   `db:"node_id" json:"node_id"`
	NodeType NodeType `db:"node_type" json:"node_type"`

	Status       ExecutionStatus        `db:"status" json:"status"`
	InputData    map[string]interface{} `db:"input_data" json:"input_data,omitempty"`
	OutputData   map[string]interface{} `db:"output_data" json:"output_data,omitempty"`
	ErrorMessage *string                `db:"error_message" json:"error_message,omitempty"`

	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ExecuteRequest is the body for POST /api/v1/executions and
// POST /api/v1/executions/stream
type ExecuteRequest struct {
	WorkflowID uuid.UUID              `json:"workflow_id" validate:"required"`
	Input      map[string]interface{} `json:"input"`
	ThreadID   *string                `json:"thread_id,omitempty" validate:"omitempty,max=128"`
	Config     map[string]interface{} `json:"config,omitempty"`
}

// ExecutionProgress summarises step completion for status polling
type ExecutionProgress struct {
	CompletedNodes int     `json:"completed_nodes"`
	TotalNodes     int     `json:"total_nodes"`
	CurrentNode    *string `json:"current_node,omitempty"`
	Percentage     int     `json:"percentage"`
}

// ExecutionStatusResponse is the body of GET /api/v1/executions/:id/status
type ExecutionStatusResponse struct {
	ID           uuid.UUID              `json:"id"`
	WorkflowID   uuid.UUID              `json:"workflow_id"`
	ThreadID     string                 `json:"thread_id"`
	Status       ExecutionStatus        `json:"status"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Progress     *ExecutionProgress     `json:"progress,omitempty"`
}

// ExecutionFilter narrows list queries
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	Status     *ExecutionStatus
	Page       int
	PageSize   int
}
