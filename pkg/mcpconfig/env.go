package mcpconfig

import (
	"os"
	"strings"
)

// ResolveEnvVar resolves a value that may reference an environment variable.
// A value of the form "os.environ/NAME" is replaced by the variable (empty
// when unset); "${NAME}" references inside a larger string are expanded in
// place.
func ResolveEnvVar(value string) string {
	if envKey, ok := strings.CutPrefix(value, "os.environ/"); ok {
		if v, found := os.LookupEnv(envKey); found {
			return v
		}
		return ""
	}
	if !strings.Contains(value, "${") {
		return value
	}
	return os.Expand(value, func(key string) string {
		return os.Getenv(key)
	})
}

func resolveEnvMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = ResolveEnvVar(v)
	}
	return out
}
