package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands environment references,
// merges it over the built-in defaults, resolves the result, and
// validates it — the same load/expand/merge/validate pipeline as the
// teacher's configLoader.Initialize, adapted from the agent/LLM/chain
// registries it builds to the collector/queue registries this domain
// needs.
func Load(path string) (*Config, error) {
	base := builtin()

	if path == "" {
		cfg := resolve(base)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Path: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	var user FileConfig
	if err := yaml.Unmarshal(expandEnv(raw), &user); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	merged, err := mergeFileConfig(base, user)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	cfg := resolve(merged)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
