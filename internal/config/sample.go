package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteSample renders Default() as YAML and writes it to path,
// overwriting any existing file. Used by cmd/runtimectl's "config
// init" to scaffold a starting settings file an operator then edits.
func WriteSample(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal sample: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
