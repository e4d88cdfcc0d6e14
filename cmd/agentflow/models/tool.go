package models

import (
	"time"

	"github.com/google/uuid"
)

// Tool represents a callable tool definition
// Maps to: tools table
//
// Implementation is a ref of the form "builtin:<class>" for tools shipped
// with the engine (calculator, http_request, file_writer, mistral_ocr) or
// "custom:<name>" for instances registered at startup or backed by an HTTP
// endpoint named in Config["url"].
type Tool struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	Name           string                 `db:"name" json:"name"`
	Description    *string                `db:"description" json:"description,omitempty"`
	Parameters     map[string]interface{} `db:"parameters" json:"parameters,omitempty"`
	Implementation string                 `db:"implementation" json:"implementation"`
	Config         map[string]interface{} `db:"config" json:"config,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// CreateToolRequest is the body for POST /api/v1/tools
type CreateToolRequest struct {
	Name           string                 `json:"name" validate:"required,max=128"`
	Description    *string                `json:"description,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Implementation string                 `json:"implementation" validate:"required,max=128"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// UpdateToolRequest is the body for PUT /api/v1/tools/:id.
// Nil fields keep their current value.
type UpdateToolRequest struct {
	Name           *string                `json:"name,omitempty" validate:"omitempty,max=128"`
	Description    *string                `json:"description,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Implementation *string                `json:"implementation,omitempty" validate:"omitempty,max=128"`
	Config         map[string]interface{} `json:"config,omitempty"`
}
