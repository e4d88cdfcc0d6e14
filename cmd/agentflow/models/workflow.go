package models

import (
	"time"

	"github.com/google/uuid"
)

// Sentinel node identifiers used in edge endpoints
const (
	StartNode = "__start__"
	EndNode   = "__end__"
)

// NodeType discriminates workflow node variants
type NodeType string

const (
	NodeTypeAgent    NodeType = "agent"
	NodeTypeRouter   NodeType = "router"
	NodeTypeParallel NodeType = "parallel"
	NodeTypeJoin     NodeType = "join"
	NodeTypeSubgraph NodeType = "subgraph"
)

// Workflow represents a graph definition
// Maps to: workflows table; owns its nodes and edges (cascade-delete)
type Workflow struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	Name        string                 `db:"name" json:"name"`
	Description *string                `db:"description" json:"description,omitempty"`
	StateSchema map[string]interface{} `db:"state_schema" json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `db:"workflow_metadata" json:"metadata,omitempty"`
	IsTemplate  bool                   `db:"is_template" json:"is_template"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`

	Nodes []*WorkflowNode `json:"nodes,omitempty"`
	Edges []*WorkflowEdge `json:"edges,omitempty"`
}

// WorkflowNode represents one node of a workflow graph
// Maps to: workflow_nodes table
type WorkflowNode struct {
	ID         uuid.UUID `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`

	// Local identifier, unique within the workflow
	NodeID   string   `db:"node_id" json:"node_id"`
	NodeType NodeType `db:"node_type" json:"node_type"`

	// Variant fields; only the ones matching NodeType are set
	AgentID            *uuid.UUID             `db:"agent_id" json:"agent_id,omitempty"`
	RouterConfig       map[string]interface{} `db:"router_config" json:"router_config,omitempty"`
	ParallelNodes      []string               `db:"parallel_nodes" json:"parallel_nodes,omitempty"`
	SubgraphWorkflowID *uuid.UUID             `db:"subgraph_workflow_id" json:"subgraph_workflow_id,omitempty"`

	// Opaque per-node settings: fan_out_key, strategy, output_key,
	// timeout_seconds
	Config map[string]interface{} `db:"config" json:"config,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WorkflowEdge represents a directed edge between two nodes
// Maps to: workflow_edges table
type WorkflowEdge struct {
	ID         uuid.UUID `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`
	SourceNode string    `db:"source_node" json:"source_node"`
	TargetNode string    `db:"target_node" json:"target_node"`

	// Optional routing expression; edges sharing a source form a
	// conditional group and a condition-less edge is the default
	Condition *string `db:"condition" json:"condition,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NodeDef describes one node in a workflow create/update request
type NodeDef struct {
	NodeID             string                 `json:"node_id" validate:"required,max=64"`
	NodeType           NodeType               `json:"node_type" validate:"required,oneof=agent router parallel join subgraph"`
	AgentID            *uuid.UUID             `json:"agent_id,omitempty"`
	RouterConfig       map[string]interface{} `json:"router_config,omitempty"`
	ParallelNodes      []string               `json:"parallel_nodes,omitempty"`
	SubgraphWorkflowID *uuid.UUID             `json:"subgraph_workflow_id,omitempty"`
	Config             map[string]interface{} `json:"config,omitempty"`
}

// EdgeDef describes one edge in a workflow create/update request
type EdgeDef struct {
	SourceNode string  `json:"source_node" validate:"required,max=64"`
	TargetNode string  `json:"target_node" validate:"required,max=64"`
	Condition  *string `json:"condition,omitempty"`
}

// CreateWorkflowRequest is the body for POST /api/v1/workflows
type CreateWorkflowRequest struct {
	Name        string                 `json:"name" validate:"required,max=128"`
	Description *string                `json:"description,omitempty"`
	StateSchema map[string]interface{} `json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTemplate  bool                   `json:"is_template"`
	Nodes       []NodeDef              `json:"nodes" validate:"dive"`
	Edges       []EdgeDef              `json:"edges" validate:"dive"`
}

// UpdateWorkflowRequest is the body for PUT /api/v1/workflows/:id.
// Nil fields keep their current value; non-nil Nodes/Edges replace the
// whole graph.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty" validate:"omitempty,max=128"`
	Description *string                `json:"description,omitempty"`
	StateSchema map[string]interface{} `json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTemplate  *bool                  `json:"is_template,omitempty"`
	Nodes       []NodeDef              `json:"nodes,omitempty" validate:"omitempty,dive"`
	Edges       []EdgeDef              `json:"edges,omitempty" validate:"omitempty,dive"`
}

// CloneWorkflowRequest is the body for POST /api/v1/workflows/:id/clone
type CloneWorkflowRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,max=128"`
}
