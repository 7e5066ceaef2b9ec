// Package builtin provides the node types available to YAML flow
// definitions: small configurable nodes for routing, fan-out, templating,
// data extraction, and sandboxed scripting.
package builtin

import (
	"fmt"
	"sort"

	"github.com/agentstation/cascade"
	"github.com/agentstation/cascade/yaml"
)

// NodeBuilder creates nodes of one type and describes them.
type NodeBuilder interface {
	Metadata() NodeMetadata
	Build(def *yaml.NodeDefinition) (cascade.Node, error)
}

// Registry holds the available node builders.
type Registry struct {
	builders map[string]NodeBuilder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]NodeBuilder)}
}

// Register adds a builder under its metadata type.
func (r *Registry) Register(builder NodeBuilder) {
	r.builders[builder.Metadata().Type] = builder
}

// Get returns the builder for a node type.
func (r *Registry) Get(nodeType string) (NodeBuilder, bool) {
	builder, ok := r.builders[nodeType]
	return builder, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All returns all registered builders keyed by type.
func (r *Registry) All() map[string]NodeBuilder {
	return r.builders
}

// RegisterAll registers every builtin node type with a YAML loader, each
// wrapped with config validation, and returns the registry for listing.
func RegisterAll(loader *yaml.Loader) *Registry {
	registry := NewRegistry()

	registry.Register(&EchoNodeBuilder{})
	registry.Register(&DelayNodeBuilder{})
	registry.Register(&TemplateNodeBuilder{})
	registry.Register(&JSONPathNodeBuilder{})
	registry.Register(&RouterNodeBuilder{})
	registry.Register(&FanOutNodeBuilder{})
	registry.Register(&LuaNodeBuilder{})

	for _, builder := range registry.All() {
		meta := builder.Metadata()
		loader.RegisterNodeType(meta.Type, validatingBuilder(builder))
	}
	return registry
}

// validatingBuilder checks the definition's config against the builder's
// schema before building.
func validatingBuilder(builder NodeBuilder) yaml.NodeBuilder {
	return func(def *yaml.NodeDefinition) (cascade.Node, error) {
		meta := builder.Metadata()
		if err := ValidateNodeConfig(&meta, def.Config); err != nil {
			return nil, fmt.Errorf("node %s: %w", def.Name, err)
		}
		return builder.Build(def)
	}
}
