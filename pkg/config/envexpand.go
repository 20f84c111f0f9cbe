package config

import "os"

// expandEnv expands ${VAR} / $VAR references in a YAML file's raw bytes
// before parsing, matching the teacher's pkg/config/envexpand.go so
// that secrets (DSNs, API keys for collectors) stay out of the YAML
// file itself.
func expandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
