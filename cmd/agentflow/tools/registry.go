package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/logger"
)

// Factory builds a builtin tool instance from per-tool configuration.
type Factory func(config map[string]interface{}) (Tool, error)

// Config carries deployment-level defaults for builtin tools.
type Config struct {
	FileWriterDir string
	MistralAPIKey string
}

// Registry resolves tool references to invocable tools. Builtins are
// registered as factories so each resolved tool can carry its own
// configuration; custom tools are either instances registered at startup
// or HTTP endpoints declared in the tool record's config.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Factory
	customs  map[string]Tool
	log      *logger.Logger
}

// NewRegistry creates a registry with all builtin tools registered.
func NewRegistry(cfg Config, log *logger.Logger) *Registry {
	r := &Registry{
		builtins: make(map[string]Factory),
		customs:  make(map[string]Tool),
		log:      log,
	}

	r.RegisterBuiltin("calculator", func(map[string]interface{}) (Tool, error) {
		return NewCalculatorTool(), nil
	})
	httpFactory := func(config map[string]interface{}) (Tool, error) {
		return NewHTTPTool(HTTPToolOptions{
			Timeout:         configFloat(config, "timeout_seconds", 0),
			MaxResponseSize: int(configFloat(config, "max_response_size", 0)),
			AllowLocal:      configBool(config, "allow_local", false),
		}), nil
	}
	r.RegisterBuiltin("http", httpFactory)
	r.RegisterBuiltin("http_request", httpFactory)
	r.RegisterBuiltin("file_writer", func(config map[string]interface{}) (Tool, error) {
		return NewFileWriterTool(configString(config, "base_directory", cfg.FileWriterDir)), nil
	})
	r.RegisterBuiltin("mistral_ocr", func(config map[string]interface{}) (Tool, error) {
		return NewMistralOCRTool(configString(config, "api_key", cfg.MistralAPIKey)), nil
	})

	return r
}

// RegisterBuiltin registers a builtin tool factory under a short name.
func (r *Registry) RegisterBuiltin(name string, factory Factory) {
	r.mu.Lock()
	r.builtins[name] = factory
	r.mu.Unlock()
}

// RegisterCustom registers a tool instance under its full reference,
// e.g. "custom:crm_lookup".
func (r *Registry) RegisterCustom(reference string, tool Tool) {
	r.mu.Lock()
	r.customs[reference] = tool
	r.mu.Unlock()
}

// ListBuiltins returns the registered builtin names, sorted.
func (r *Registry) ListBuiltins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the invocable tool for a stored tool definition. The
// record's name, description and parameter schema override whatever the
// underlying implementation reports, and arguments are validated against
// the advertised schema before every invocation.
func (r *Registry) Resolve(def *models.Tool) (Tool, error) {
	base, err := r.resolveRef(def.Implementation, def.Config)
	if err != nil {
		return nil, err
	}

	bound := &boundTool{
		inner:       base,
		name:        def.Name,
		description: base.Description(),
		schema:      base.InputSchema(),
	}
	if bound.name == "" {
		bound.name = base.Name()
	}
	if def.Description != nil && *def.Description != "" {
		bound.description = *def.Description
	}
	if len(def.Parameters) > 0 {
		bound.schema = def.Parameters
	}
	if len(bound.schema) > 0 {
		compiled, err := compileSchema(bound.schema)
		if err != nil {
			return nil, fmt.Errorf("tool %q has an invalid parameter schema: %w", bound.name, err)
		}
		bound.compiled = compiled
	}
	return bound, nil
}

// ResolveRef resolves a bare reference with optional configuration,
// without a stored record. Used for builtin defaults and tests.
func (r *Registry) ResolveRef(reference string, config map[string]interface{}) (Tool, error) {
	return r.resolveRef(reference, config)
}

func (r *Registry) resolveRef(reference string, config map[string]interface{}) (Tool, error) {
	switch {
	case strings.HasPrefix(reference, "builtin:"):
		name := strings.SplitN(reference, ":", 2)[1]
		r.mu.RLock()
		factory, ok := r.builtins[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("builtin tool %q not found, available: %s", name, strings.Join(r.ListBuiltins(), ", "))
		}
		return factory(config)

	case strings.HasPrefix(reference, "custom:"):
		r.mu.RLock()
		tool, ok := r.customs[reference]
		r.mu.RUnlock()
		if ok {
			return tool, nil
		}
		// A custom tool without a registered instance can still be
		// served remotely when its record names an endpoint.
		if url := configString(config, "url", ""); url != "" {
			name := strings.SplitN(reference, ":", 2)[1]
			return NewRemoteTool(name, url, configFloat(config, "timeout_seconds", 0)), nil
		}
		return nil, fmt.Errorf("custom tool %q not found", reference)

	default:
		return nil, fmt.Errorf("invalid tool reference %q, expected 'builtin:name' or 'custom:name'", reference)
	}
}

func compileSchema(schema map[string]interface{}) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", schema); err != nil {
		return nil, err
	}
	return compiler.Compile("tool.json")
}

// boundTool applies a tool record's overrides and schema validation on
// top of the underlying implementation.
type boundTool struct {
	inner       Tool
	name        string
	description string
	schema      map[string]interface{}
	compiled    *jsonschema.Schema
}

func (t *boundTool) Name() string                        { return t.name }
func (t *boundTool) Description() string                 { return t.description }
func (t *boundTool) InputSchema() map[string]interface{} { return t.schema }

func (t *boundTool) Invoke(ctx context.Context, args map[string]interface{}) *Result {
	if t.compiled != nil {
		var instance interface{} = args
		if args == nil {
			instance = map[string]interface{}{}
		}
		if err := t.compiled.Validate(instance); err != nil {
			return Errorf("invalid arguments for %s: %v", t.name, err)
		}
	}
	return t.inner.Invoke(ctx, args)
}
