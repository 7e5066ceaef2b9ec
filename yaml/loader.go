package yaml

import (
	"context"
	"fmt"

	"github.com/agentstation/cascade"
)

// NodeFactory creates nodes from definitions.
type NodeFactory interface {
	CreateNode(def *NodeDefinition) (cascade.Node, error)
}

// NodeBuilder builds a node from a definition.
type NodeBuilder func(def *NodeDefinition) (cascade.Node, error)

// defaultNodeFactory dispatches on the node type field.
type defaultNodeFactory struct {
	registry map[string]NodeBuilder
}

// Loader turns flow definitions into executable flows.
type Loader struct {
	parser  *Parser
	factory NodeFactory
	opts    []cascade.FlowOption
}

// NewLoader creates a loader with an empty type registry.
func NewLoader() *Loader {
	return &Loader{
		parser: NewParser(),
		factory: &defaultNodeFactory{
			registry: make(map[string]NodeBuilder),
		},
	}
}

// WithNodeFactory sets a custom node factory, replacing the registry.
func (l *Loader) WithNodeFactory(factory NodeFactory) *Loader {
	l.factory = factory
	return l
}

// WithFlowOptions appends engine options applied to every loaded flow, after
// the options derived from the definition itself.
func (l *Loader) WithFlowOptions(opts ...cascade.FlowOption) *Loader {
	l.opts = append(l.opts, opts...)
	return l
}

// RegisterNodeType registers a builder for a node type.
func (l *Loader) RegisterNodeType(nodeType string, builder NodeBuilder) {
	if df, ok := l.factory.(*defaultNodeFactory); ok {
		df.registry[nodeType] = builder
	}
}

// LoadFile loads a flow from a YAML file.
func (l *Loader) LoadFile(filename string) (*cascade.Flow, error) {
	def, err := l.parser.ParseFile(filename)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}
	return l.LoadDefinition(def)
}

// LoadString loads a flow from a YAML string.
func (l *Loader) LoadString(yamlStr string) (*cascade.Flow, error) {
	def, err := l.parser.ParseString(yamlStr)
	if err != nil {
		return nil, fmt.Errorf("parse string: %w", err)
	}
	return l.LoadDefinition(def)
}

// LoadDefinition builds the node graph from a parsed definition and wraps it
// in a flow.
func (l *Loader) LoadDefinition(def *FlowDefinition) (*cascade.Flow, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition: %w", err)
	}

	nodes := make(map[string]cascade.Node, len(def.Nodes))
	for i := range def.Nodes {
		nodeDef := &def.Nodes[i]
		node, err := l.factory.CreateNode(nodeDef)
		if err != nil {
			return nil, fmt.Errorf("create node %s: %w", nodeDef.Name, err)
		}
		nodes[nodeDef.Name] = node
	}

	for _, conn := range def.Connections {
		action := conn.Action
		if action == "" {
			action = defaultAction
		}
		nodes[conn.From].On(action, nodes[conn.To])
	}

	var opts []cascade.FlowOption
	if def.Flow.MaxVisits > 0 {
		opts = append(opts, cascade.WithMaxVisits(def.Flow.MaxVisits))
	}
	opts = append(opts, l.opts...)

	start := nodes[def.Start]
	if def.Flow.Parallel {
		return cascade.NewParallelFlow(def.Name, start, opts...), nil
	}
	return cascade.NewFlow(def.Name, start, opts...), nil
}

// CreateNode implements NodeFactory over the type registry. Unknown types
// fall back to a pass-through node that records its config, which keeps
// partially authored flows runnable.
func (f *defaultNodeFactory) CreateNode(def *NodeDefinition) (cascade.Node, error) {
	builder, ok := f.registry[def.Type]
	if !ok {
		return passthroughNode(def), nil
	}
	return builder(def)
}

// passthroughNode stores its type and config under node-scoped keys and
// triggers nothing, so the default action carries on.
func passthroughNode(def *NodeDefinition) cascade.Node {
	name, nodeType, config := def.Name, def.Type, def.Config
	return cascade.NewNode(name, cascade.Steps{
		Post: func(ctx context.Context, m *cascade.Memory, prep, exec any, t *cascade.Triggers) error {
			if err := m.Set(fmt.Sprintf("node:%s:type", name), nodeType); err != nil {
				return err
			}
			if config != nil {
				return m.Set(fmt.Sprintf("node:%s:config", name), config)
			}
			return nil
		},
	})
}

// RetryOptions converts a definition's retry config into node options.
func RetryOptions(rc *RetryConfig) ([]cascade.Option, error) {
	if rc == nil {
		return nil, nil
	}
	wait, err := rc.GetWait()
	if err != nil {
		return nil, fmt.Errorf("parse retry wait: %w", err)
	}
	return []cascade.Option{cascade.WithRetry(rc.MaxRetries, wait)}, nil
}
