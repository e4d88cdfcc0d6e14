package provider

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// defaultAnthropicMaxTokens applies when the agent does not set a limit;
// the Messages API requires an explicit value.
const defaultAnthropicMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK the adapter
// uses, so tests can install fakes.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicProvider drives the Anthropic Messages API.
type AnthropicProvider struct {
	messages MessagesClient
	log      *logger.Logger
}

// NewAnthropicProvider builds the Anthropic adapter from an API key.
func NewAnthropicProvider(apiKey string, log *logger.Logger) *AnthropicProvider {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{messages: &client.Messages, log: log}
}

// NewAnthropicWithClient wraps an existing messages client, used by tests.
func NewAnthropicWithClient(messages MessagesClient, log *logger.Logger) *AnthropicProvider {
	return &AnthropicProvider{messages: messages, log: log}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete runs one message completion.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.messages.New(ctx, *params)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindProvider, err, "anthropic completion failed")
	}
	return translateAnthropicMessage(msg), nil
}

// Stream runs one message completion while forwarding text deltas.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request, onDelta func(delta string) error) (*Response, error) {
	params, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	stream := p.messages.NewStreaming(ctx, *params)
	defer stream.Close()

	out := &Response{}
	type toolBuffer struct {
		id        string
		name      string
		fragments strings.Builder
	}
	toolBlocks := map[int]*toolBuffer{}
	order := []int{}

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[int(ev.Index)] = &toolBuffer{id: block.ID, name: block.Name}
				order = append(order, int(ev.Index))
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				out.Content += delta.Text
				if onDelta != nil {
					if err := onDelta(delta.Text); err != nil {
						return nil, err
					}
				}
			case sdk.InputJSONDelta:
				if tb := toolBlocks[int(ev.Index)]; tb != nil {
					tb.fragments.WriteString(delta.PartialJSON)
				}
			}
		case sdk.MessageStartEvent:
			out.Usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case sdk.MessageDeltaEvent:
			out.FinishReason = string(ev.Delta.StopReason)
			// usage on message_delta is cumulative
			if ev.Usage.InputTokens > 0 {
				out.Usage.PromptTokens = int(ev.Usage.InputTokens)
			}
			out.Usage.CompletionTokens = int(ev.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, apperror.Wrap(apperror.KindProvider, err, "anthropic stream failed")
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens

	for _, idx := range order {
		tb := toolBlocks[idx]
		args := tb.fragments.String()
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tb.id, Name: tb.name, Arguments: args})
	}
	return out, nil
}

// encodeRequest maps a canonical request to Messages API params. System
// turns travel out-of-band, assistant tool calls become tool_use blocks
// and tool results become tool_result blocks on a user turn.
func (p *AnthropicProvider) encodeRequest(req *Request) (*sdk.MessageNewParams, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	// 1.0 is the API default; anything else is stated explicitly
	if req.Temperature != 1.0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	var system []sdk.TextBlockParam
	var pendingToolResults []sdk.ContentBlockParamUnion
	flushToolResults := func() {
		if len(pendingToolResults) > 0 {
			params.Messages = append(params.Messages, sdk.NewUserMessage(pendingToolResults...))
			pendingToolResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case RoleUser:
			flushToolResults()
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			flushToolResults()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input interface{}
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, sdk.NewTextBlock(""))
			}
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			// Consecutive results collapse into one user turn
			pendingToolResults = append(pendingToolResults,
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			return nil, apperror.Newf(apperror.KindProvider, "unsupported message role %q", m.Role)
		}
	}
	flushToolResults()

	if len(system) > 0 {
		params.System = system
	}

	for _, def := range req.Tools {
		schema := sdk.ToolInputSchemaParam{}
		if len(def.Parameters) > 0 {
			schema.ExtraFields = def.Parameters
		}
		tool := sdk.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	// The Messages API has no response_format; a declared output schema
	// becomes an explicit instruction instead.
	if len(req.OutputSchema) > 0 {
		raw, err := json.Marshal(req.OutputSchema)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindProvider, err, "failed to encode output schema")
		}
		system = append(system, sdk.TextBlockParam{
			Text: "Respond only with a JSON object matching this JSON Schema, with no surrounding prose:\n" + string(raw),
		})
		params.System = system
	}

	return params, nil
}

func translateAnthropicMessage(msg *sdk.Message) *Response {
	out := &Response{FinishReason: string(msg.StopReason)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Content = text.String()
	out.Usage = Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return out
}
