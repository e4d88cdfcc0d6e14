package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileWriterTool writes agent output to local files under a configured
// base directory. Relative paths resolve against the base directory and
// absolute paths outside it are rejected.
type FileWriterTool struct {
	baseDir string
}

// NewFileWriterTool creates the file_writer builtin rooted at baseDir.
// An empty baseDir falls back to the working directory.
func NewFileWriterTool(baseDir string) *FileWriterTool {
	if baseDir == "" {
		baseDir = "."
	}
	return &FileWriterTool{baseDir: baseDir}
}

func (t *FileWriterTool) Name() string { return "file_writer" }

func (t *FileWriterTool) Description() string {
	return "Write content to a local file. Supports text and JSON formats. " +
		"Can specify a full file path or just a directory (auto-generates filename). " +
		"Example: {'content': 'hello world', 'file_path': 'output.txt'}"
}

func (t *FileWriterTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        []interface{}{"string", "object", "array"},
				"description": "Content to write to the file. Can be string, object, or array.",
			},
			"file_path": map[string]interface{}{
				"type": "string",
				"description": "Path to write the file. Relative to the configured output directory. " +
					"If a directory is provided, auto-generates filename with timestamp.",
			},
			"format": map[string]interface{}{
				"type":        "string",
				"enum":        []interface{}{"text", "json"},
				"description": "Output format. 'json' for structured data, 'text' for plain text. Default: auto-detect.",
			},
			"append": map[string]interface{}{
				"type":        "boolean",
				"description": "If true, append to existing file instead of overwriting. Default: false.",
			},
		},
		"required": []interface{}{"content", "file_path"},
	}
}

func (t *FileWriterTool) Invoke(_ context.Context, args map[string]interface{}) *Result {
	content, hasContent := args["content"]
	rawPath, _ := args["file_path"].(string)
	if !hasContent || rawPath == "" {
		return Errorf("content and file_path are required")
	}
	format, _ := args["format"].(string)
	appendMode, _ := args["append"].(bool)

	resolved, err := t.resolvePath(rawPath, content, format)
	if err != nil {
		return Errorf("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Errorf("failed to create directory: %v", err)
	}

	outputFormat := format
	if outputFormat == "" {
		outputFormat = detectFormat(content, resolved)
	}

	formatted, err := formatContent(content, outputFormat)
	if err != nil {
		return Errorf("%v", err)
	}
	if appendMode && !strings.HasSuffix(formatted, "\n") {
		formatted += "\n"
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return Errorf("failed to write file: %v", err)
	}
	n, err := f.WriteString(formatted)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Errorf("failed to write file: %v", err)
	}

	mode := "written"
	if appendMode {
		mode = "appended"
	}
	return Ok(map[string]interface{}{
		"file_path":     resolved,
		"bytes_written": n,
		"format":        outputFormat,
		"mode":          mode,
	})
}

// resolvePath confines the target under the base directory and generates
// a timestamped filename when a directory is given.
func (t *FileWriterTool) resolvePath(rawPath string, content interface{}, format string) (string, error) {
	base, err := filepath.Abs(t.baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	path := rawPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the output directory", rawPath)
	}

	isDir := strings.HasSuffix(rawPath, "/") || strings.HasSuffix(rawPath, string(filepath.Separator))
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		isDir = true
	}
	if isDir {
		timestamp := time.Now().Format("20060102_150405")
		path = filepath.Join(path, fmt.Sprintf("output_%s%s", timestamp, extensionFor(content, format)))
	}
	return path, nil
}

func detectFormat(content interface{}, path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}
	switch c := content.(type) {
	case map[string]interface{}, []interface{}:
		return "json"
	case string:
		if json.Valid([]byte(c)) && strings.TrimSpace(c) != "" {
			return "json"
		}
	}
	return "text"
}

func formatContent(content interface{}, format string) (string, error) {
	if format == "json" {
		if s, ok := content.(string); ok {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				content = parsed
			}
		}
		data, err := json.MarshalIndent(content, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode JSON: %w", err)
		}
		return string(data), nil
	}
	switch c := content.(type) {
	case string:
		return c, nil
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("failed to encode content: %w", err)
		}
		return string(data), nil
	}
}

func extensionFor(content interface{}, format string) string {
	switch format {
	case "json":
		return ".json"
	case "text":
		return ".txt"
	}
	switch c := content.(type) {
	case map[string]interface{}, []interface{}:
		return ".json"
	case string:
		if json.Valid([]byte(c)) && strings.TrimSpace(c) != "" {
			return ".json"
		}
	}
	return ".txt"
}
