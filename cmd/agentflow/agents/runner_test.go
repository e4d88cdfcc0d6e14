package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/provider"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// scriptedProvider returns canned responses in order and records every
// request it sees.
type scriptedProvider struct {
	responses []*provider.Response
	requests  []*provider.Request
	err       error
	calls     int
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.responses) {
		return &provider.Response{Content: "done"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request, _ func(string) error) (*provider.Response, error) {
	return p.Complete(ctx, req)
}

type stubTool struct {
	name    string
	result  *tools.Result
	gotArgs map[string]interface{}
}

func (t *stubTool) Name() string                        { return t.name }
func (t *stubTool) Description() string                 { return "stub tool" }
func (t *stubTool) InputSchema() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (t *stubTool) Invoke(_ context.Context, args map[string]interface{}) *tools.Result {
	t.gotArgs = args
	return t.result
}

func newTestRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "writer"
	}
	if cfg.Instructions == "" {
		cfg.Instructions = "You write things."
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	r, err := NewRunner(cfg, logger.New("error", "text"))
	require.NoError(t, err)
	return r
}

func TestRunnerPlainCompletion(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{Content: "hello world", Usage: provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
	}}
	r := newTestRunner(t, Config{Provider: p, Temperature: 0.4, MaxTokens: 128})

	res, err := r.Run(context.Background(), state.New(map[string]interface{}{"topic": "go"}), nil)
	require.NoError(t, err)

	assert.Equal(t, "hello world", res.Output)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, res.Usage)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 0.4, req.Temperature)
	assert.Equal(t, 128, req.MaxTokens)
	assert.Empty(t, req.Tools)
	assert.Empty(t, req.OutputSchema)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You write things.", req.Messages[0].Content)
	assert.Equal(t, provider.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "topic: go", req.Messages[1].Content)
}

func TestRunnerToolLoop(t *testing.T) {
	lookup := &stubTool{name: "lookup", result: tools.Ok(map[string]interface{}{"answer": float64(42)})}
	p := &scriptedProvider{responses: []*provider.Response{
		{
			ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":"meaning"}`}},
			Usage:     provider.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		},
		{Content: "the answer is 42", Usage: provider.Usage{PromptTokens: 20, CompletionTokens: 6, TotalTokens: 26}},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{lookup}})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, "the answer is 42", res.Output)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, provider.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40}, res.Usage)
	assert.Equal(t, map[string]interface{}{"q": "meaning"}, lookup.gotArgs)

	require.Len(t, p.requests, 2)
	first := p.requests[0]
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "lookup", first.Tools[0].Name)

	second := p.requests[1]
	require.Len(t, second.Messages, 4)
	assert.Equal(t, provider.RoleAssistant, second.Messages[2].Role)
	require.Len(t, second.Messages[2].ToolCalls, 1)
	assert.Equal(t, provider.RoleTool, second.Messages[3].Role)
	assert.Equal(t, "call_1", second.Messages[3].ToolCallID)
	assert.Equal(t, "lookup", second.Messages[3].ToolName)
	assert.JSONEq(t, `{"answer":42}`, second.Messages[3].Content)
}

func TestRunnerToolFailureBecomesToolTurn(t *testing.T) {
	failing := &stubTool{name: "lookup", result: tools.Errorf("backend down")}
	p := &scriptedProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{}`}}},
		{Content: "could not look it up"},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{failing}})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, "could not look it up", res.Output)
	require.Len(t, p.requests, 2)
	toolTurn := p.requests[1].Messages[3]
	assert.Equal(t, "Error executing tool lookup: backend down", toolTurn.Content)
}

func TestRunnerUnknownTool(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "nope", Arguments: `{}`}}},
		{Content: "giving up"},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{&stubTool{name: "lookup", result: tools.Ok("x")}}})

	_, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	toolTurn := p.requests[1].Messages[3]
	assert.Equal(t, "Error executing tool nope: tool not found", toolTurn.Content)
}

func TestRunnerInvalidToolArguments(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `not json`}}},
		{Content: "moving on"},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{&stubTool{name: "lookup", result: tools.Ok("x")}}})

	_, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	toolTurn := p.requests[1].Messages[3]
	assert.Contains(t, toolTurn.Content, "Error executing tool lookup: invalid arguments")
}

func TestRunnerLoopExhaustion(t *testing.T) {
	echo := &stubTool{name: "lookup", result: tools.Ok("again")}
	responses := make([]*provider.Response, MaxToolIterations)
	for i := range responses {
		responses[i] = &provider.Response{
			ToolCalls: []provider.ToolCall{{ID: "call", Name: "lookup", Arguments: `{}`}},
			Usage:     provider.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		}
	}
	p := &scriptedProvider{responses: responses}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{echo}})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, LoopExhaustedOutput, res.Output)
	assert.Equal(t, MaxToolIterations, res.Iterations)
	assert.Len(t, p.requests, MaxToolIterations)
	assert.Equal(t, MaxToolIterations*2, res.Usage.TotalTokens)
}

func TestRunnerCancelledBetweenIterations(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{}`}}},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{&stubTool{name: "lookup", result: tools.Ok("x")}}})

	calls := 0
	_, err := r.Run(context.Background(), state.New(nil), func() bool {
		calls++
		return calls > 1
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, p.requests, 1)
}

func TestRunnerProviderErrorBubbles(t *testing.T) {
	p := &scriptedProvider{err: apperror.New(apperror.KindProvider, "model overloaded")}
	r := newTestRunner(t, Config{Provider: p})

	_, err := r.Run(context.Background(), state.New(nil), nil)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindProvider))
}

func TestRunnerStructuredOutput(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"score": map[string]interface{}{"type": "number"}},
		"required":   []interface{}{"score"},
	}

	p := &scriptedProvider{responses: []*provider.Response{{Content: `{"score":0.9}`}}}
	r := newTestRunner(t, Config{
		Provider:     p,
		OutputSchema: schema,
		Tools:        []tools.Tool{&stubTool{name: "lookup", result: tools.Ok("x")}},
	})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"score": 0.9}, res.Output)
	assert.NoError(t, res.SchemaError)

	// structured output suppresses tool binding
	req := p.requests[0]
	assert.Empty(t, req.Tools)
	assert.Equal(t, schema, req.OutputSchema)
}

func TestRunnerStructuredOutputUnparseable(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{{Content: "not json at all"}}}
	r := newTestRunner(t, Config{
		Provider:     p,
		OutputSchema: map[string]interface{}{"type": "object"},
	})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, "not json at all", res.Output)
	assert.NoError(t, res.SchemaError)
}

func TestRunnerStructuredOutputSchemaViolation(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{{Content: `{"wrong":1}`}}}
	r := newTestRunner(t, Config{
		Provider: p,
		OutputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"score": map[string]interface{}{"type": "number"}},
			"required":   []interface{}{"score"},
		},
	})

	res, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	// raw output kept, violation recorded
	assert.Equal(t, `{"wrong":1}`, res.Output)
	require.Error(t, res.SchemaError)
	assert.True(t, apperror.IsKind(res.SchemaError, apperror.KindSchemaValidation))
}

func TestRunnerTruncatesOversizedToolResult(t *testing.T) {
	big := &stubTool{name: "lookup", result: tools.Ok(strings.Repeat("a", MaxToolOutputChars+100))}
	p := &scriptedProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{}`}}},
		{Content: "summarized"},
	}}
	r := newTestRunner(t, Config{Provider: p, Tools: []tools.Tool{big}})

	_, err := r.Run(context.Background(), state.New(nil), nil)
	require.NoError(t, err)

	toolTurn := p.requests[1].Messages[3]
	assert.Len(t, toolTurn.Content, MaxToolOutputChars)
	assert.True(t, strings.HasSuffix(toolTurn.Content, "[TRUNCATED ...]"))
}

func TestNewRunnerRejectsBadSchema(t *testing.T) {
	_, err := NewRunner(Config{
		Name:         "writer",
		Provider:     &scriptedProvider{},
		Model:        "gpt-4o",
		OutputSchema: map[string]interface{}{"type": "no-such-type"},
	}, logger.New("error", "text"))
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindCompilation))
	assert.ErrorContains(t, err, "output_schema")
}

func TestRunnerCancelledImmediately(t *testing.T) {
	p := &scriptedProvider{}
	r := newTestRunner(t, Config{Provider: p})

	_, err := r.Run(context.Background(), state.New(nil), func() bool { return true })
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, p.requests)
}
