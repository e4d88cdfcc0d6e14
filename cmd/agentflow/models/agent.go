package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifiers accepted in agent definitions
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Agent represents an LLM agent definition
// Maps to: agents table
type Agent struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	Name         string                 `db:"name" json:"name"`
	Description  *string                `db:"description" json:"description,omitempty"`
	Provider     string                 `db:"provider" json:"provider"`
	Model        string                 `db:"model" json:"model"`
	Instructions string                 `db:"instructions" json:"instructions"`
	Temperature  float64                `db:"temperature" json:"temperature"`
	MaxTokens    *int                   `db:"max_tokens" json:"max_tokens,omitempty"`
	OutputSchema map[string]interface{} `db:"output_schema" json:"output_schema,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`

	// Bound tools, loaded through the agent_tools join table
	Tools []*Tool `json:"tools,omitempty"`
}

// CreateAgentRequest is the body for POST /api/v1/agents
type CreateAgentRequest struct {
	Name         string                 `json:"name" validate:"required,max=128"`
	Description  *string                `json:"description,omitempty"`
	Provider     string                 `json:"provider" validate:"omitempty,oneof=openai anthropic google"`
	Model        string                 `json:"model" validate:"omitempty,max=128"`
	Instructions string                 `json:"instructions" validate:"required"`
	Temperature  *float64               `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    *int                   `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	ToolIDs      []uuid.UUID            `json:"tool_ids,omitempty"`
}

// UpdateAgentRequest is the body for PUT /api/v1/agents/:id.
// Nil fields keep their current value.
type UpdateAgentRequest struct {
	Name         *string                `json:"name,omitempty" validate:"omitempty,max=128"`
	Description  *string                `json:"description,omitempty"`
	Provider     *string                `json:"provider,omitempty" validate:"omitempty,oneof=openai anthropic google"`
	Model        *string                `json:"model,omitempty" validate:"omitempty,max=128"`
	Instructions *string                `json:"instructions,omitempty"`
	Temperature  *float64               `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    *int                   `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	OutputSchema map[string]interface{} `json:"output_schema,omitempty"`
	ToolIDs      []uuid.UUID            `json:"tool_ids,omitempty"`
}
