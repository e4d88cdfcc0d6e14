package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
)

func testLog() *logger.Logger {
	return logger.New("error", "text")
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Complete(context.Context, *Request) (*Response, error) {
	return &Response{Content: "stub"}, nil
}
func (s stubProvider) Stream(_ context.Context, _ *Request, _ func(string) error) (*Response, error) {
	return &Response{Content: "stub"}, nil
}

func TestFactoryRegistersConfiguredProviders(t *testing.T) {
	f := NewFactory(config.ProviderConfig{OpenAIAPIKey: "sk-test"}, testLog())

	assert.Equal(t, []string{"openai"}, f.Names())

	p, err := f.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestFactoryAllProviders(t *testing.T) {
	f := NewFactory(config.ProviderConfig{
		OpenAIAPIKey:    "sk-test",
		AnthropicAPIKey: "sk-ant-test",
		GoogleAPIKey:    "g-test",
	}, testLog())

	for _, name := range []string{"openai", "anthropic", "google"} {
		p, err := f.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}
}

func TestFactoryUnconfiguredProvider(t *testing.T) {
	f := NewFactory(config.ProviderConfig{}, testLog())

	_, err := f.Get("anthropic")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindProvider))
	assert.Contains(t, err.Error(), "not configured")
}

func TestFactoryRegisterOverrides(t *testing.T) {
	f := NewFactory(config.ProviderConfig{}, testLog())
	f.Register(stubProvider{name: "openai"})

	p, err := f.Get("openai")
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", resp.Content)
}

func TestValidateRequest(t *testing.T) {
	valid := func() *Request {
		return &Request{
			Model:    "gpt-4o",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		}
	}

	assert.NoError(t, validateRequest(valid()))

	missingModel := valid()
	missingModel.Model = ""
	assert.ErrorContains(t, validateRequest(missingModel), "model is required")

	noMessages := valid()
	noMessages.Messages = nil
	assert.ErrorContains(t, validateRequest(noMessages), "message is required")

	both := valid()
	both.Tools = []ToolDef{{Name: "calc"}}
	both.OutputSchema = map[string]interface{}{"type": "object"}
	err := validateRequest(both)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindProvider))
	assert.Contains(t, err.Error(), "cannot be combined")
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})

	assert.Equal(t, Usage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}, u)
}
