package builtin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateNodeConfig validates a node configuration against the type's
// config schema. Types without a schema accept any config.
func ValidateNodeConfig(meta *NodeMetadata, config map[string]any) error {
	if len(meta.ConfigSchema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(meta.ConfigSchema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, resultErr := range result.Errors() {
			msgs[i] = resultErr.String()
		}
		return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
