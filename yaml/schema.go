// Package yaml loads cascade flows from declarative YAML definitions.
package yaml

import (
	"fmt"
	"time"
)

const defaultAction = "default"

// FlowDefinition is a complete flow described in YAML.
type FlowDefinition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Version     string           `yaml:"version,omitempty"`
	Start       string           `yaml:"start"`
	Flow        FlowConfig       `yaml:"flow,omitempty"`
	Nodes       []NodeDefinition `yaml:"nodes"`
	Connections []Connection     `yaml:"connections,omitempty"`
}

// FlowConfig holds engine options for the flow.
type FlowConfig struct {
	// Parallel selects the concurrent branch strategy.
	Parallel bool `yaml:"parallel,omitempty"`

	// MaxVisits caps per-node visits for cycle detection; 0 keeps the
	// engine default.
	MaxVisits int `yaml:"max_visits,omitempty"`
}

// NodeDefinition describes one node.
type NodeDefinition struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
	Retry       *RetryConfig   `yaml:"retry,omitempty"`
}

// Connection wires one successor edge.
type Connection struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Action string `yaml:"action,omitempty"`
}

// RetryConfig is a node's retry configuration.
type RetryConfig struct {
	// MaxRetries is the total number of exec attempts.
	MaxRetries int `yaml:"max_retries"`

	// Wait is the pause between attempts, as a Go duration string.
	Wait string `yaml:"wait,omitempty"`
}

// Validate checks structural consistency of the definition.
func (fd *FlowDefinition) Validate() error {
	if fd.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if fd.Start == "" {
		return fmt.Errorf("start node is required")
	}
	if len(fd.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	if fd.Flow.MaxVisits < 0 {
		return fmt.Errorf("max_visits cannot be negative")
	}

	names := make(map[string]bool, len(fd.Nodes))
	for _, node := range fd.Nodes {
		if node.Name == "" {
			return fmt.Errorf("node name is required")
		}
		if node.Type == "" {
			return fmt.Errorf("node type is required for node %s", node.Name)
		}
		if names[node.Name] {
			return fmt.Errorf("duplicate node name %s", node.Name)
		}
		names[node.Name] = true

		if err := node.Validate(); err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
	}

	if !names[fd.Start] {
		return fmt.Errorf("start node %s not found", fd.Start)
	}

	for _, conn := range fd.Connections {
		if !names[conn.From] {
			return fmt.Errorf("connection from unknown node %s", conn.From)
		}
		if !names[conn.To] {
			return fmt.Errorf("connection to unknown node %s", conn.To)
		}
	}

	return nil
}

// Validate checks the node definition.
func (nd *NodeDefinition) Validate() error {
	if nd.Retry != nil {
		if err := nd.Retry.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
	}
	return nil
}

// Validate checks the retry config.
func (rc *RetryConfig) Validate() error {
	if rc.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if rc.Wait != "" {
		if _, err := time.ParseDuration(rc.Wait); err != nil {
			return fmt.Errorf("invalid wait: %w", err)
		}
	}
	return nil
}

// GetWait returns the parsed inter-attempt wait.
func (rc *RetryConfig) GetWait() (time.Duration, error) {
	if rc.Wait == "" {
		return 0, nil
	}
	return time.ParseDuration(rc.Wait)
}
