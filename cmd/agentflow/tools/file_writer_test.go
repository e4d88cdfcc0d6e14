package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriterText(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	result := tool.Invoke(context.Background(), map[string]interface{}{
		"content":   "hello world",
		"file_path": "notes/out.txt",
	})
	require.True(t, result.Success, result.Error)

	output := result.Output.(map[string]interface{})
	assert.Equal(t, "text", output["format"])
	assert.Equal(t, "written", output["mode"])
	assert.Equal(t, 11, output["bytes_written"])

	data, err := os.ReadFile(filepath.Join(dir, "notes", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFileWriterJSONAutoDetect(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	result := tool.Invoke(context.Background(), map[string]interface{}{
		"content":   map[string]interface{}{"b": 2.0, "a": 1.0},
		"file_path": "data.json",
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "json", result.Output.(map[string]interface{})["format"])

	data, err := os.ReadFile(filepath.Join(dir, "data.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"a\": 1")
}

func TestFileWriterParsesJSONStrings(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	result := tool.Invoke(context.Background(), map[string]interface{}{
		"content":   `{"k":"v"}`,
		"file_path": "parsed.txt",
		"format":    "json",
	})
	require.True(t, result.Success, result.Error)

	data, err := os.ReadFile(filepath.Join(dir, "parsed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"k\": \"v\"\n}", string(data))
}

func TestFileWriterAppend(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	for _, line := range []string{"first", "second"} {
		result := tool.Invoke(context.Background(), map[string]interface{}{
			"content":   line,
			"file_path": "log.txt",
			"append":    true,
		})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, "appended", result.Output.(map[string]interface{})["mode"])
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestFileWriterGeneratesFilenameForDirectories(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	result := tool.Invoke(context.Background(), map[string]interface{}{
		"content":   map[string]interface{}{"x": 1.0},
		"file_path": "reports/",
	})
	require.True(t, result.Success, result.Error)

	path := result.Output.(map[string]interface{})["file_path"].(string)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "output_"))
	assert.Equal(t, ".json", filepath.Ext(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestFileWriterRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	tool := NewFileWriterTool(dir)

	for _, path := range []string{"../escape.txt", "a/../../escape.txt", "/etc/agentflow-test.txt"} {
		result := tool.Invoke(context.Background(), map[string]interface{}{
			"content":   "nope",
			"file_path": path,
		})
		require.False(t, result.Success, path)
		assert.Contains(t, result.Error, "escapes", path)
	}
}

func TestFileWriterRequiresArgs(t *testing.T) {
	tool := NewFileWriterTool(t.TempDir())

	result := tool.Invoke(context.Background(), map[string]interface{}{"content": "x"})
	assert.False(t, result.Success)

	result = tool.Invoke(context.Background(), map[string]interface{}{"file_path": "x.txt"})
	assert.False(t, result.Success)
}
