package builtin

// NodeMetadata describes a node type available to YAML flow definitions.
type NodeMetadata struct {
	Type         string         `json:"type"`
	Category     string         `json:"category"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"configSchema"`
	Examples     []Example      `json:"examples,omitempty"`
	Since        string         `json:"since,omitempty"`
}

// Example shows how to configure a node type.
type Example struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}
