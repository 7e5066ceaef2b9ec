package yaml

import (
	"fmt"
	"os"

	goyaml "github.com/goccy/go-yaml"
)

// Parser parses flow definitions from YAML documents.
type Parser struct{}

// NewParser creates a new YAML parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a flow definition from raw YAML bytes and validates it.
func (p *Parser) Parse(data []byte) (*FlowDefinition, error) {
	var def FlowDefinition
	if err := goyaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition: %w", err)
	}
	return &def, nil
}

// ParseFile parses a flow definition from a YAML file.
func (p *Parser) ParseFile(filename string) (*FlowDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", filename, err)
	}
	return p.Parse(data)
}

// ParseString parses a flow definition from a YAML string.
func (p *Parser) ParseString(s string) (*FlowDefinition, error) {
	return p.Parse([]byte(s))
}

// Marshal serializes a flow definition back to YAML.
func (p *Parser) Marshal(def *FlowDefinition) ([]byte, error) {
	data, err := goyaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return data, nil
}
