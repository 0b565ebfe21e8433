// Package config loads analyzerhost settings.
//
// Settings are layered: built-in defaults, then a TOML file (which may pull
// in others through @include), then ANALYZERHOST_* environment variables.
// Later layers win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/analyzerhost/internal/config/loader"
	"github.com/dshills/analyzerhost/internal/version"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ANALYZERHOST_"

	// DefaultHostAPIVersion is the plugin API version the host implements.
	DefaultHostAPIVersion = "10.4"

	maxIncludeDepth = 8
)

// Config holds every analyzerhost setting.
type Config struct {
	Plugins PluginsConfig `toml:"plugins"`
	Host    HostConfig    `toml:"host"`
	Runtime RuntimeConfig `toml:"runtime"`
	Lua     LuaConfig     `toml:"lua"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// PluginsConfig controls discovery and eligibility.
type PluginsConfig struct {
	// Paths are the directories scanned for bundles. Empty means the
	// per-user and per-project defaults.
	Paths            []string          `toml:"paths"`
	EnabledLanguages []string          `toml:"enabledLanguages"`
	TempDir          string            `toml:"tempDir"`
	MinVersions      map[string]string `toml:"minVersions"`
	ReloadDelay      Duration          `toml:"reloadDelay"`
}

// HostConfig describes the host itself.
type HostConfig struct {
	APIVersion string `toml:"apiVersion"`
}

// RuntimeConfig controls the auxiliary runtime check.
type RuntimeConfig struct {
	CheckAuxRuntime   bool   `toml:"checkAuxRuntime"`
	AuxRuntimeCommand string `toml:"auxRuntimeCommand"`
}

// LuaConfig bounds plugin execution.
type LuaConfig struct {
	ExecutionTimeout Duration `toml:"executionTimeout"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Address is where /metrics is served. Empty disables it.
	Address string `toml:"address"`
}

// Duration is a time.Duration written as "500ms" or "5s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Plugins: PluginsConfig{
			EnabledLanguages: []string{"go", "java", "js", "ts", "py", "xml"},
			ReloadDelay:      Duration(500 * time.Millisecond),
		},
		Host: HostConfig{
			APIVersion: DefaultHostAPIVersion,
		},
		Runtime: RuntimeConfig{
			AuxRuntimeCommand: "node",
		},
		Lua: LuaConfig{
			ExecutionTimeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "analyzerhost", "config.toml")
}

// Load reads path from disk and applies environment overrides. A missing
// file is not an error.
func Load(path string) (Config, error) {
	return LoadWith(loader.DefaultFS(), path, loader.NewEnvLoader(EnvPrefix))
}

// LoadWith is Load with an explicit file system and environment source.
// A nil env skips environment overrides.
func LoadWith(fsys loader.FileSystem, path string, env loader.Loader) (Config, error) {
	merged := make(map[string]any)

	if path != "" {
		fileCfg, err := loader.NewTOMLLoaderWithFS(fsys, path).LoadWithIncludes(path, maxIncludeDepth)
		if err != nil {
			return Config{}, err
		}
		merged = loader.DeepMerge(merged, fileCfg)
	}

	if env != nil {
		envCfg, err := env.Load()
		if err != nil {
			return Config{}, fmt.Errorf("reading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, envCfg)
	}

	normalizeLists(merged)
	normalizeVersions(merged)

	cfg := Default()
	if err := decode(merged, &cfg); err != nil {
		return Config{}, err
	}
	cfg.Plugins.Paths = expandPaths(cfg.Plugins.Paths)
	cfg.Plugins.TempDir = expandPath(cfg.Plugins.TempDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode re-encodes the merged map and decodes it over cfg so that unset
// keys keep their defaults.
func decode(merged map[string]any, cfg *Config) error {
	data, err := toml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encoding merged config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, strings.TrimSpace(strict.String()))
		}
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

// normalizeLists turns list settings given as a single string into lists.
// Paths split on the OS list separator, languages on commas.
func normalizeLists(m map[string]any) {
	plugins, ok := m["plugins"].(map[string]any)
	if !ok {
		return
	}
	if s, ok := plugins["paths"].(string); ok {
		plugins["paths"] = nonEmpty(filepath.SplitList(s))
	}
	if s, ok := plugins["enabledLanguages"].(string); ok {
		plugins["enabledLanguages"] = nonEmpty(strings.Split(s, ","))
	}
}

// normalizeVersions restores version strings that an override parsed as
// numbers, e.g. ANALYZERHOST_HOST_API_VERSION=10.4.
func normalizeVersions(m map[string]any) {
	if host, ok := m["host"].(map[string]any); ok {
		if s, ok := numberString(host["apiVersion"]); ok {
			host["apiVersion"] = s
		}
	}
	if plugins, ok := m["plugins"].(map[string]any); ok {
		if mins, ok := plugins["minVersions"].(map[string]any); ok {
			for k, v := range mins {
				if s, ok := numberString(v); ok {
					mins[k] = s
				}
			}
		}
	}
}

func numberString(v any) (string, bool) {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	return "", false
}

func nonEmpty(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func expandPaths(paths []string) []string {
	for i, p := range paths {
		paths[i] = expandPath(p)
	}
	return paths
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// Validate checks values the type system cannot.
func (c Config) Validate() error {
	if _, err := version.Parse(c.Host.APIVersion); err != nil {
		return fmt.Errorf("%w: host.apiVersion: %v", ErrValidationFailed, err)
	}
	for key, v := range c.Plugins.MinVersions {
		if _, err := version.Parse(v); err != nil {
			return fmt.Errorf("%w: plugins.minVersions.%s: %v", ErrValidationFailed, key, err)
		}
	}
	if c.Lua.ExecutionTimeout <= 0 {
		return fmt.Errorf("%w: lua.executionTimeout must be positive", ErrValidationFailed)
	}
	if c.Plugins.ReloadDelay < 0 {
		return fmt.Errorf("%w: plugins.reloadDelay must not be negative", ErrValidationFailed)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrValidationFailed, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrValidationFailed, c.Logging.Format)
	}
	if c.Runtime.CheckAuxRuntime && c.Runtime.AuxRuntimeCommand == "" {
		return fmt.Errorf("%w: runtime.auxRuntimeCommand is required when checkAuxRuntime is set", ErrValidationFailed)
	}
	return nil
}
