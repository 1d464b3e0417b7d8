package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML document of string keys/values (or scalars
// stringified by the YAML decoder) and layers it on top of the package
// defaults. This is the optional on-ramp spec.md §1 calls out as an
// external collaborator ("configuration file parsing") — the simulator
// core only ever consumes the resulting flat Config, never a file path.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := Default()
	for k, v := range raw {
		cfg.Set(k, fmt.Sprintf("%v", v))
	}
	return cfg, nil
}
