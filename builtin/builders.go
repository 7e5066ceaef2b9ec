package builtin

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/agentstation/cascade"
	"github.com/agentstation/cascade/script"
	"github.com/agentstation/cascade/yaml"
)

// stringConfig reads a string config value with a fallback.
func stringConfig(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// EchoNodeBuilder builds echo nodes.
type EchoNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *EchoNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "echo",
		Category:    "core",
		Description: "Writes a fixed message into memory",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "Message to write",
				},
				"output_key": map[string]any{
					"type":        "string",
					"description": "Memory key to write the message to",
					"default":     "echo",
				},
			},
		},
		Examples: []Example{
			{
				Name:        "Simple echo",
				Description: "Write a greeting under the default key",
				Config:      map[string]any{"message": "Hello, World!"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates an echo node from a definition.
func (b *EchoNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	message := stringConfig(def.Config, "message", "")
	outputKey := stringConfig(def.Config, "output_key", "echo")

	return cascade.NewNode(def.Name, cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			return message, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			return m.Set(outputKey, exec)
		},
	}, opts...), nil
}

// DelayNodeBuilder builds delay nodes.
type DelayNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *DelayNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "delay",
		Category:    "core",
		Description: "Pauses the branch for a duration",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"duration": map[string]any{
					"type":        "string",
					"description": "How long to pause, as a Go duration (e.g. '500ms')",
					"default":     "1s",
				},
			},
		},
		Examples: []Example{
			{
				Name:        "Short delay",
				Description: "Pause for half a second",
				Config:      map[string]any{"duration": "500ms"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a delay node from a definition.
func (b *DelayNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	duration, err := time.ParseDuration(stringConfig(def.Config, "duration", "1s"))
	if err != nil {
		return nil, fmt.Errorf("parse duration: %w", err)
	}

	return cascade.NewNode(def.Name, cascade.Steps{
		Exec: func(ctx context.Context, prep any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(duration):
				return prep, nil
			}
		},
	}, opts...), nil
}

// TemplateNodeBuilder builds template nodes.
type TemplateNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *TemplateNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "template",
		Category:    "data",
		Description: "Renders a Go text/template over a memory value",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"template": map[string]any{
					"type":        "string",
					"description": "Template source; the input value is bound to dot",
				},
				"input_key": map[string]any{
					"type":        "string",
					"description": "Memory key holding the template input",
					"default":     "input",
				},
				"output_key": map[string]any{
					"type":        "string",
					"description": "Memory key the rendered text is written to",
					"default":     "output",
				},
			},
			"required": []any{"template"},
		},
		Examples: []Example{
			{
				Name:        "Greeting",
				Description: "Render a greeting from the input map",
				Config:      map[string]any{"template": "Hello, {{.name}}!"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a template node from a definition. The template is parsed
// once at build time so malformed templates fail the load, not the run.
func (b *TemplateNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	source := stringConfig(def.Config, "template", "")
	tmpl, err := template.New(def.Name).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	inputKey := stringConfig(def.Config, "input_key", "input")
	outputKey := stringConfig(def.Config, "output_key", "output")

	return cascade.NewNode(def.Name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(inputKey)
			return v, nil
		},
		Exec: func(ctx context.Context, prep any) (any, error) {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, prep); err != nil {
				return nil, fmt.Errorf("render template: %w", err)
			}
			return buf.String(), nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			return m.Set(outputKey, exec)
		},
	}, opts...), nil
}

// JSONPathNodeBuilder builds jsonpath nodes.
type JSONPathNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *JSONPathNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "jsonpath",
		Category:    "data",
		Description: "Extracts a value from a memory document with a JSONPath expression",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "JSONPath expression (e.g. '$.user.name')",
				},
				"input_key": map[string]any{
					"type":        "string",
					"description": "Memory key holding the document",
					"default":     "input",
				},
				"output_key": map[string]any{
					"type":        "string",
					"description": "Memory key the extraction is written to",
					"default":     "output",
				},
			},
			"required": []any{"path"},
		},
		Examples: []Example{
			{
				Name:        "Extract field",
				Description: "Pull a nested field out of the input document",
				Config:      map[string]any{"path": "$.user.name"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a jsonpath node from a definition. A single match unwraps to
// the bare value; multiple matches stay a list.
func (b *JSONPathNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	expr, err := jp.ParseString(stringConfig(def.Config, "path", ""))
	if err != nil {
		return nil, fmt.Errorf("parse jsonpath: %w", err)
	}
	inputKey := stringConfig(def.Config, "input_key", "input")
	outputKey := stringConfig(def.Config, "output_key", "output")

	return cascade.NewNode(def.Name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(inputKey)
			return v, nil
		},
		Exec: func(ctx context.Context, prep any) (any, error) {
			results := expr.Get(prep)
			switch len(results) {
			case 0:
				return nil, nil
			case 1:
				return results[0], nil
			default:
				return results, nil
			}
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			return m.Set(outputKey, exec)
		},
	}, opts...), nil
}

// RouterNodeBuilder builds router nodes.
type RouterNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *RouterNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "router",
		Category:    "flow",
		Description: "Triggers an action chosen by a memory value",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Memory key whose value selects the route",
				},
				"routes": map[string]any{
					"type":        "object",
					"description": "Map from value to action name",
					"additionalProperties": map[string]any{
						"type": "string",
					},
				},
				"fallback": map[string]any{
					"type":        "string",
					"description": "Action when no route matches",
					"default":     "default",
				},
			},
			"required": []any{"key"},
		},
		Examples: []Example{
			{
				Name:        "Status routing",
				Description: "Route on the status value",
				Config: map[string]any{
					"key":    "status",
					"routes": map[string]any{"ok": "continue", "error": "recover"},
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a router node from a definition.
func (b *RouterNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	key := stringConfig(def.Config, "key", "")
	fallback := stringConfig(def.Config, "fallback", cascade.DefaultAction)

	routes := make(map[string]string)
	if raw, ok := def.Config["routes"].(map[string]any); ok {
		for value, action := range raw {
			if s, ok := action.(string); ok {
				routes[value] = s
			}
		}
	}

	return cascade.NewNode(def.Name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(key)
			return v, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			action := fallback
			if value, ok := prep.(string); ok {
				if mapped, ok := routes[value]; ok {
					action = mapped
				}
			}
			return t.Trigger(action, nil)
		},
	}, opts...), nil
}

// FanOutNodeBuilder builds fanout nodes.
type FanOutNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *FanOutNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "fanout",
		Category:    "flow",
		Description: "Triggers one branch per item of a memory list",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"items_key": map[string]any{
					"type":        "string",
					"description": "Memory key holding the list to spread",
				},
				"action": map[string]any{
					"type":        "string",
					"description": "Action to trigger per item",
					"default":     "item",
				},
			},
			"required": []any{"items_key"},
		},
		Examples: []Example{
			{
				Name:        "Spread work",
				Description: "Trigger a work branch per task",
				Config:      map[string]any{"items_key": "tasks", "action": "work"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a fanout node from a definition. Each branch gets the item
// and its index as branch-local state.
func (b *FanOutNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	itemsKey := stringConfig(def.Config, "items_key", "")
	action := stringConfig(def.Config, "action", "item")

	return cascade.NewNode(def.Name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(itemsKey)
			return v, nil
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			items, ok := prep.([]any)
			if !ok {
				return fmt.Errorf("key %q does not hold a list (got %T)", itemsKey, prep)
			}
			for i, item := range items {
				if err := t.Trigger(action, cascade.Store{"item": item, "index": i}); err != nil {
					return err
				}
			}
			return nil
		},
	}, opts...), nil
}

// LuaNodeBuilder builds lua script nodes.
type LuaNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *LuaNodeBuilder) Metadata() NodeMetadata {
	return NodeMetadata{
		Type:        "lua",
		Category:    "script",
		Description: "Runs a sandboxed Lua script as the exec step",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Lua source defining an exec(input) function",
				},
				"input_key": map[string]any{
					"type":        "string",
					"description": "Memory key passed to the script as input",
					"default":     "input",
				},
				"output_key": map[string]any{
					"type":        "string",
					"description": "Memory key the script result is written to",
					"default":     "output",
				},
			},
			"required": []any{"script"},
		},
		Examples: []Example{
			{
				Name:        "Uppercase",
				Description: "Shout the input back",
				Config: map[string]any{
					"script": "function exec(input)\n  return string.upper(input)\nend",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a lua node from a definition. The script is validated at
// build time.
func (b *LuaNodeBuilder) Build(def *yaml.NodeDefinition) (cascade.Node, error) {
	opts, err := yaml.RetryOptions(def.Retry)
	if err != nil {
		return nil, err
	}
	source := stringConfig(def.Config, "script", "")
	if err := script.Validate(source); err != nil {
		return nil, err
	}
	inputKey := stringConfig(def.Config, "input_key", "input")
	outputKey := stringConfig(def.Config, "output_key", "output")

	return cascade.NewNode(def.Name, cascade.Steps{
		Prep: func(ctx context.Context, m *cascade.Memory) (any, error) {
			v, _ := m.Get(inputKey)
			return v, nil
		},
		Exec: func(ctx context.Context, prep any) (any, error) {
			return script.Execute(ctx, source, prep)
		},
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			return m.Set(outputKey, exec)
		},
	}, opts...), nil
}
