package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load parses a pipeline declaration from YAML bytes.
func Load(data []byte) (*Declaration, error) {
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("pipeline: parsing declaration: %w", err)
	}
	for i, step := range decl.Pipeline {
		if step.Name == "" {
			return nil, fmt.Errorf("pipeline: step %d is missing required field %q", i, "name")
		}
	}
	return &decl, nil
}

// LoadFile reads and parses a declaration from path.
func LoadFile(path string) (*Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading declaration file: %w", err)
	}
	return Load(data)
}
