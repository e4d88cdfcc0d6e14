package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// googleOpenAIBaseURL is Gemini's OpenAI-compatible endpoint. The Google
// provider reuses the whole OpenAI adapter against it.
const googleOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// ChatClient captures the subset of the go-openai client the adapter
// uses, so tests can install fakes.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIProvider drives OpenAI-compatible chat completion APIs.
type OpenAIProvider struct {
	name string
	chat ChatClient
	log  *logger.Logger
}

// NewOpenAIProvider builds the OpenAI adapter from an API key.
func NewOpenAIProvider(apiKey string, log *logger.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		name: "openai",
		chat: openai.NewClient(apiKey),
		log:  log,
	}
}

// NewGoogleProvider builds a Gemini adapter speaking OpenAI's wire
// format against Google's compatibility endpoint.
func NewGoogleProvider(apiKey string, log *logger.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = googleOpenAIBaseURL
	return &OpenAIProvider{
		name: "google",
		chat: openai.NewClientWithConfig(cfg),
		log:  log,
	}
}

// NewOpenAICompatible wraps an existing client, used by tests and by
// deployments pointing at self-hosted OpenAI-compatible gateways.
func NewOpenAICompatible(name string, chat ChatClient, log *logger.Logger) *OpenAIProvider {
	return &OpenAIProvider{name: name, chat: chat, log: log}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Complete runs one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	request, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.chat.CreateChatCompletion(ctx, *request)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindProvider, err, p.name+" completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, apperror.New(apperror.KindProvider, p.name+" returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// Stream runs one chat completion while forwarding text deltas.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request, onDelta func(delta string) error) (*Response, error) {
	request, err := p.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.chat.CreateChatCompletionStream(ctx, *request)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindProvider, err, p.name+" stream failed")
	}
	defer stream.Close()

	out := &Response{}
	calls := map[int]*ToolCall{}
	maxIndex := -1
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperror.Wrap(apperror.KindProvider, err, p.name+" stream failed")
		}
		if chunk.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			out.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			out.Content += choice.Delta.Content
			if onDelta != nil {
				if err := onDelta(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &ToolCall{}
				calls[idx] = call
				if idx > maxIndex {
					maxIndex = idx
				}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}
	for i := 0; i <= maxIndex; i++ {
		if call, ok := calls[i]; ok {
			out.ToolCalls = append(out.ToolCalls, *call)
		}
	}
	return out, nil
}

func (p *OpenAIProvider) encodeRequest(req *Request) (*openai.ChatCompletionRequest, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	temperature := float32(req.Temperature)
	if temperature == 0 {
		// go-openai drops zero values from the payload; the smallest
		// positive float is the documented way to request temperature 0.
		temperature = math.SmallestNonzeroFloat32
	}

	request := &openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}

	for _, def := range req.Tools {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindProvider, err, "failed to encode tool schema for "+def.Name)
		}
		request.Tools = append(request.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}

	if len(req.OutputSchema) > 0 {
		raw, err := json.Marshal(req.OutputSchema)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindProvider, err, "failed to encode output schema")
		}
		name, _ := req.OutputSchema["title"].(string)
		if name == "" {
			name = "response"
		}
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(raw),
				Strict: true,
			},
		}
	}

	return request, nil
}
