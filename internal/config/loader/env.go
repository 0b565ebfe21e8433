package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "ANALYZERHOST_")
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "ANALYZERHOST_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		environ: os.Environ,
	}
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable
// mappings reading from environ.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string, environ func() []string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: mapping,
		environ: environ,
	}
}

// defaultEnvMapping returns the shorthand variables that do not follow the
// SECTION_SETTING naming scheme.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "LOG_LEVEL":    "logging.level",
		prefix + "LOG_FORMAT":   "logging.format",
		prefix + "PLUGIN_PATHS": "plugins.paths",
		prefix + "LANGUAGES":    "plugins.enabledLanguages",
		prefix + "TEMP_DIR":     "plugins.tempDir",
		prefix + "HOST_API":     "host.apiVersion",
	}
}

// Load reads environment variables and returns a configuration map.
// Mapped variables win over scheme-derived ones and keep their raw string
// value. Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	mapped := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if path, ok := l.mapping[name]; ok {
			setByPath(mapped, path, value)
			continue
		}
		if path := l.envToPath(name); path != "" {
			setByPath(config, path, parseValue(value))
		}
	}

	return DeepMerge(config, mapped), nil
}

// envToPath converts ANALYZERHOST_LUA_EXECUTION_TIMEOUT to
// lua.executionTimeout. Names without a setting part are ignored.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if part != "" {
			setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return strings.ToLower(parts[0]) + "." + setting
}

// parseValue attempts to parse the string value into an appropriate type.
// Durations stay strings and are parsed by the typed configuration.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") && strings.Count(s, ".") == 1 {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
