package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a proctor.yaml file, expands ${VAR} references, and unmarshals
// into a Config. The result is not validated; callers run Validate (or
// Descriptors, which validates) before use so flag overrides can be applied
// first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	return &cfg, nil
}
