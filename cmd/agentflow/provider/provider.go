// Package provider adapts LLM provider SDKs to one chat-completion
// surface the agent runtime can drive: canonical messages in, text or
// tool calls out.
package provider

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one canonical conversation turn.
type Message struct {
	Role    Role
	Content string

	// Set on assistant turns that request tools
	ToolCalls []ToolCall

	// Set on tool turns, links the result to the originating call
	ToolCallID string
	ToolName   string
}

// ToolCall is a model request to invoke a tool. Arguments is the raw
// JSON object string exactly as the provider produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef describes a tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Usage counts tokens for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another completion's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Request is one completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64

	// 0 lets the provider pick its default
	MaxTokens int

	// Tools and OutputSchema are mutually exclusive
	Tools        []ToolDef
	OutputSchema map[string]interface{}
}

// Response is one completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream completes while feeding text deltas to onDelta and returns
	// the assembled response. A non-nil error from onDelta aborts the
	// stream.
	Stream(ctx context.Context, req *Request, onDelta func(delta string) error) (*Response, error)
}

// validateRequest enforces the contracts shared by every provider.
func validateRequest(req *Request) error {
	if req.Model == "" {
		return apperror.New(apperror.KindProvider, "model is required")
	}
	if len(req.Messages) == 0 {
		return apperror.New(apperror.KindProvider, "at least one message is required")
	}
	if len(req.Tools) > 0 && len(req.OutputSchema) > 0 {
		return apperror.New(apperror.KindProvider, "tools and output_schema cannot be combined in one request")
	}
	return nil
}

// Factory hands out configured providers by name.
type Factory struct {
	providers map[string]Provider
}

// NewFactory builds providers for every credential present in the
// configuration. Missing keys leave the provider unregistered; resolving
// it then fails with a configuration hint.
func NewFactory(cfg config.ProviderConfig, log *logger.Logger) *Factory {
	f := &Factory{providers: make(map[string]Provider)}

	if cfg.OpenAIAPIKey != "" {
		f.Register(NewOpenAIProvider(cfg.OpenAIAPIKey, log))
	}
	if cfg.AnthropicAPIKey != "" {
		f.Register(NewAnthropicProvider(cfg.AnthropicAPIKey, log))
	}
	if cfg.GoogleAPIKey != "" {
		f.Register(NewGoogleProvider(cfg.GoogleAPIKey, log))
	}

	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	log.Info("providers configured", "providers", names)
	return f
}

// Register adds or replaces a provider. Tests use this to install stubs.
func (f *Factory) Register(p Provider) {
	f.providers[p.Name()] = p
}

// Get resolves a provider by name.
func (f *Factory) Get(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, apperror.Newf(apperror.KindProvider,
			"provider %q is not configured, set its API key", name).
			WithDetails(map[string]interface{}{"provider": name})
	}
	return p, nil
}

// Names lists the configured providers.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	return names
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:max], len(s))
}
