package config

import "dario.cat/mergo"

// mergeFileConfig overlays user on top of base, with user's non-zero
// fields taking precedence, mirroring the teacher's built-in-plus-user
// YAML merge (pkg/config/merge.go) via the same mergo.Merge call.
func mergeFileConfig(base, user FileConfig) (FileConfig, error) {
	if err := mergo.Merge(&base, user, mergo.WithOverride); err != nil {
		return FileConfig{}, err
	}
	return base, nil
}

func resolve(merged FileConfig) Config {
	return Config{
		Resilience:   *merged.Resilience,
		Queue:        *merged.Queue,
		EvidencePool: *merged.EvidencePool,
		Synthesizer:  *merged.Synthesizer,
		Orchestrator: *merged.Orchestrator,
		Retention:    *merged.Retention,
		Server:       *merged.Server,
		Database:     *merged.Database,
		Collectors:   merged.Collectors,
	}
}
