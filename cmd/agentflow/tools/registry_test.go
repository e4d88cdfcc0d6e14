package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/logger"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(Config{FileWriterDir: t.TempDir()}, logger.New("error", "text"))
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo arguments back" }
func (echoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (echoTool) Invoke(_ context.Context, args map[string]interface{}) *Result {
	return Ok(args)
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	r := testRegistry(t)

	for _, ref := range []string{"builtin:calculator", "builtin:http_request", "builtin:http", "builtin:file_writer", "builtin:mistral_ocr"} {
		tool, err := r.ResolveRef(ref, nil)
		require.NoError(t, err, ref)
		assert.NotEmpty(t, tool.Name(), ref)
	}

	assert.Equal(t, []string{"calculator", "file_writer", "http", "http_request", "mistral_ocr"}, r.ListBuiltins())
}

func TestRegistryUnknownReferences(t *testing.T) {
	r := testRegistry(t)

	_, err := r.ResolveRef("builtin:nonexistent", nil)
	assert.ErrorContains(t, err, "not found")

	_, err = r.ResolveRef("custom:nonexistent", nil)
	assert.ErrorContains(t, err, "not found")

	_, err = r.ResolveRef("calculator", nil)
	assert.ErrorContains(t, err, "invalid tool reference")
}

func TestRegistryCustomInstance(t *testing.T) {
	r := testRegistry(t)
	r.RegisterCustom("custom:echo", echoTool{})

	tool, err := r.ResolveRef("custom:echo", nil)
	require.NoError(t, err)

	result := tool.Invoke(context.Background(), map[string]interface{}{"x": 1.0})
	require.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"x": 1.0}, result.Output)
}

func TestResolveAppliesRecordOverrides(t *testing.T) {
	r := testRegistry(t)
	desc := "Company calculator"

	tool, err := r.Resolve(&models.Tool{
		Name:           "math",
		Description:    &desc,
		Implementation: "builtin:calculator",
	})
	require.NoError(t, err)

	assert.Equal(t, "math", tool.Name())
	assert.Equal(t, "Company calculator", tool.Description())

	result := tool.Invoke(context.Background(), map[string]interface{}{"expression": "2+2"})
	require.True(t, result.Success)
	assert.Equal(t, float64(4), result.Output)
}

func TestResolveValidatesArguments(t *testing.T) {
	r := testRegistry(t)
	r.RegisterCustom("custom:echo", echoTool{})

	tool, err := r.Resolve(&models.Tool{
		Name:           "echo",
		Implementation: "custom:echo",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"message"},
		},
	})
	require.NoError(t, err)

	result := tool.Invoke(context.Background(), map[string]interface{}{"message": "hi"})
	assert.True(t, result.Success)

	result = tool.Invoke(context.Background(), map[string]interface{}{"wrong": "hi"})
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid arguments")

	result = tool.Invoke(context.Background(), map[string]interface{}{"message": 42.0})
	assert.False(t, result.Success)
}

func TestResolveRejectsBadParameterSchema(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Resolve(&models.Tool{
		Name:           "broken",
		Implementation: "builtin:calculator",
		Parameters: map[string]interface{}{
			"type": "no-such-type",
		},
	})
	assert.Error(t, err)
}

func TestResolveRemoteFromConfig(t *testing.T) {
	r := testRegistry(t)

	tool, err := r.ResolveRef("custom:webhook", map[string]interface{}{
		"url": "http://internal.example.com/tools/webhook",
	})
	require.NoError(t, err)
	assert.Equal(t, "webhook", tool.Name())
}
