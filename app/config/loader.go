package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a scheduling-defaults YAML file. A missing file yields empty
// defaults rather than an error, so the file stays optional.
func Load(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Defaults{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}

	var defaults Defaults
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse defaults file %s: %w", path, err)
	}
	return &defaults, nil
}
