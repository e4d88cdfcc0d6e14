// Package agents runs a single agent node: one provider conversation
// with a bounded tool-calling loop over the node's resolved tools.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lyzr/agentflow/cmd/agentflow/provider"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// ErrCancelled reports that the execution's cancel flag was raised
// between tool iterations.
var ErrCancelled = errors.New("execution cancelled")

// LoopExhaustedOutput is returned when the tool loop hits its bound.
// The step still completes; progress up to here is checkpointed.
const LoopExhaustedOutput = "Max tool iterations reached"

// Config describes one runnable agent: the resolved provider, model
// parameters, and already-bound tools.
type Config struct {
	Name         string
	Instructions string
	Provider     provider.Provider
	Model        string
	Temperature  float64
	MaxTokens    int
	OutputSchema map[string]interface{}
	Tools        []tools.Tool
}

// Result is one agent run's outcome.
type Result struct {
	Output     interface{}
	Iterations int
	Usage      provider.Usage

	// SchemaError records an output_schema validation failure. The raw
	// output is kept and the step still completes.
	SchemaError error
}

// Runner executes an agent node against the current state.
type Runner struct {
	cfg      Config
	compiled *jsonschema.Schema
	log      *logger.Logger
}

// NewRunner builds a runner, compiling the output schema when set.
func NewRunner(cfg Config, log *logger.Logger) (*Runner, error) {
	r := &Runner{cfg: cfg, log: log}
	if len(cfg.OutputSchema) > 0 {
		compiled, err := compileOutputSchema(cfg.OutputSchema)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindCompilation, err,
				fmt.Sprintf("invalid output_schema for agent %q", cfg.Name))
		}
		r.compiled = compiled
	}
	return r, nil
}

// Run drives the provider/tool loop. cancelled is polled between
// iterations; a raised flag aborts with ErrCancelled. Provider errors
// bubble out as node failures, tool errors become tool turns.
func (r *Runner) Run(ctx context.Context, st state.State, cancelled func() bool) (*Result, error) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: r.cfg.Instructions},
		{Role: provider.RoleUser, Content: BuildContext(st)},
	}

	var usage provider.Usage
	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		if cancelled != nil && cancelled() {
			return nil, ErrCancelled
		}

		resp, err := r.cfg.Provider.Complete(ctx, r.buildRequest(messages))
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			return r.finish(resp.Content, iteration+1, usage), nil
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    r.invokeTool(ctx, call),
			})
		}
	}

	r.log.Warn("agent hit tool iteration bound", "agent", r.cfg.Name)
	return &Result{Output: LoopExhaustedOutput, Iterations: MaxToolIterations, Usage: usage}, nil
}

func (r *Runner) buildRequest(messages []provider.Message) *provider.Request {
	req := &provider.Request{
		Model:       r.cfg.Model,
		Messages:    messages,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	// structured output wins over tools; they cannot be combined
	switch {
	case len(r.cfg.OutputSchema) > 0:
		req.OutputSchema = r.cfg.OutputSchema
	case len(r.cfg.Tools) > 0:
		defs := make([]provider.ToolDef, 0, len(r.cfg.Tools))
		for _, t := range r.cfg.Tools {
			defs = append(defs, provider.ToolDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.InputSchema(),
			})
		}
		req.Tools = defs
	}
	return req
}

// invokeTool runs one tool call and renders its result as the tool-turn
// content. Failures of any shape fold into an error line rather than
// aborting the loop.
func (r *Runner) invokeTool(ctx context.Context, call provider.ToolCall) string {
	tool := r.toolByName(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error executing tool %s: tool not found", call.Name)
	}

	var args map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error executing tool %s: invalid arguments: %v", call.Name, err)
		}
	}

	r.log.Debug("invoking tool", "agent", r.cfg.Name, "tool", call.Name)
	result := tool.Invoke(ctx, args)
	if !result.Success {
		return fmt.Sprintf("Error executing tool %s: %s", call.Name, result.Error)
	}

	rendered, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: unserializable result: %v", call.Name, err)
	}
	return truncateOutput(string(rendered))
}

func (r *Runner) toolByName(name string) tools.Tool {
	for _, t := range r.cfg.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// finish applies the structured-output contract: parse only when an
// output schema is set and parsing succeeds, otherwise keep the raw
// string. A schema violation is recorded, never fatal.
func (r *Runner) finish(content string, iterations int, usage provider.Usage) *Result {
	res := &Result{Output: content, Iterations: iterations, Usage: usage}
	if len(r.cfg.OutputSchema) == 0 {
		return res
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return res
	}
	if r.compiled != nil {
		if err := r.compiled.Validate(parsed); err != nil {
			res.SchemaError = apperror.Wrap(apperror.KindSchemaValidation, err,
				fmt.Sprintf("agent %q output failed schema validation", r.cfg.Name))
			return res
		}
	}
	res.Output = parsed
	return res
}

func compileOutputSchema(schema map[string]interface{}) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", schema); err != nil {
		return nil, err
	}
	return compiler.Compile("output.json")
}
