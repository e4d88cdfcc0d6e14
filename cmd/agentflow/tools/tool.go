// Package tools hosts the builtin tool implementations and the registry
// that resolves tool references ("builtin:calculator", "custom:crm") into
// invocable tools for agent nodes.
package tools

import (
	"context"
	"fmt"
)

// Tool is an invocable capability exposed to agents. Implementations
// report failures through the Result rather than panicking, so a broken
// tool call becomes a message the model can react to.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Invoke(ctx context.Context, args map[string]interface{}) *Result
}

// Result is the outcome of one tool invocation.
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Ok wraps a successful output.
func Ok(output interface{}) *Result {
	return &Result{Success: true, Output: output}
}

// Errorf builds a failed result.
func Errorf(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// String renders the result for logs.
func (r *Result) String() string {
	if r.Success {
		return fmt.Sprintf("ok: %v", r.Output)
	}
	return fmt.Sprintf("error: %s", r.Error)
}

func configString(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configFloat(config map[string]interface{}, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func configBool(config map[string]interface{}, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}
