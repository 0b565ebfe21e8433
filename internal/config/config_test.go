package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dshills/analyzerhost/internal/config/loader"
)

type staticEnv map[string]any

func (e staticEnv) Load() (map[string]any, error) { return e, nil }

func envFrom(vars ...string) loader.Loader {
	return loader.NewEnvLoaderWithMapping(EnvPrefix, nil, func() []string { return vars })
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Host.APIVersion != DefaultHostAPIVersion {
		t.Errorf("APIVersion = %q", cfg.Host.APIVersion)
	}
	if cfg.Lua.ExecutionTimeout.Std() != 5*time.Second {
		t.Errorf("ExecutionTimeout = %v", cfg.Lua.ExecutionTimeout.Std())
	}
	if cfg.Plugins.ReloadDelay.Std() != 500*time.Millisecond {
		t.Errorf("ReloadDelay = %v", cfg.Plugins.ReloadDelay.Std())
	}
}

func TestLoadWith_File(t *testing.T) {
	fsys := loader.MapFS{FS: fstest.MapFS{
		"config.toml": {Data: []byte(`
[plugins]
paths = ["/srv/plugins"]
enabledLanguages = ["go"]
reloadDelay = "1s"

[plugins.minVersions]
go = "2.0"

[host]
apiVersion = "11.0"

[lua]
executionTimeout = "250ms"
`)},
	}}

	cfg, err := LoadWith(fsys, "config.toml", nil)
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}

	if len(cfg.Plugins.Paths) != 1 || cfg.Plugins.Paths[0] != "/srv/plugins" {
		t.Errorf("Paths = %v", cfg.Plugins.Paths)
	}
	if len(cfg.Plugins.EnabledLanguages) != 1 {
		t.Errorf("EnabledLanguages = %v", cfg.Plugins.EnabledLanguages)
	}
	if cfg.Plugins.MinVersions["go"] != "2.0" {
		t.Errorf("MinVersions = %v", cfg.Plugins.MinVersions)
	}
	if cfg.Host.APIVersion != "11.0" {
		t.Errorf("APIVersion = %q", cfg.Host.APIVersion)
	}
	if cfg.Lua.ExecutionTimeout.Std() != 250*time.Millisecond {
		t.Errorf("ExecutionTimeout = %v", cfg.Lua.ExecutionTimeout.Std())
	}
	if cfg.Plugins.ReloadDelay.Std() != time.Second {
		t.Errorf("ReloadDelay = %v", cfg.Plugins.ReloadDelay.Std())
	}
	// Untouched sections keep defaults.
	if cfg.Logging.Level != "info" || cfg.Runtime.AuxRuntimeCommand != "node" {
		t.Errorf("defaults lost: %+v %+v", cfg.Logging, cfg.Runtime)
	}
}

func TestLoadWith_MissingFile(t *testing.T) {
	cfg, err := LoadWith(loader.MapFS{FS: fstest.MapFS{}}, "absent.toml", nil)
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Host.APIVersion != DefaultHostAPIVersion {
		t.Errorf("APIVersion = %q, want default", cfg.Host.APIVersion)
	}
}

func TestLoadWith_EnvOverridesFile(t *testing.T) {
	fsys := loader.MapFS{FS: fstest.MapFS{
		"config.toml": {Data: []byte(`
[logging]
level = "warn"
format = "json"
`)},
	}}
	env := loader.NewEnvLoaderWithMapping(EnvPrefix, map[string]string{
		EnvPrefix + "LANGUAGES": "plugins.enabledLanguages",
	}, func() []string {
		return []string{
			"ANALYZERHOST_LOGGING_LEVEL=debug",
			"ANALYZERHOST_LANGUAGES=go, java,,",
			"ANALYZERHOST_HOST_API_VERSION=12.1",
		}
	})

	cfg, err := LoadWith(fsys, "config.toml", env)
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %q, want file value", cfg.Logging.Format)
	}
	if got := cfg.Plugins.EnabledLanguages; len(got) != 2 || got[0] != "go" || got[1] != "java" {
		t.Errorf("EnabledLanguages = %v", got)
	}
	if cfg.Host.APIVersion != "12.1" {
		t.Errorf("APIVersion = %q", cfg.Host.APIVersion)
	}
}

func TestLoadWith_PathList(t *testing.T) {
	list := "/a" + string(os.PathListSeparator) + "/b"
	cfg, err := LoadWith(nil, "", staticEnv{"plugins": map[string]any{"paths": list}})
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if len(cfg.Plugins.Paths) != 2 {
		t.Errorf("Paths = %v", cfg.Plugins.Paths)
	}
}

func TestLoadWith_ExpandsPaths(t *testing.T) {
	t.Setenv("PLUGIN_ROOT", "/data")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg, err := LoadWith(nil, "", staticEnv{"plugins": map[string]any{
		"paths":   []any{"$PLUGIN_ROOT/plugins", "~/plugins"},
		"tempDir": "~",
	}})
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Plugins.Paths[0] != "/data/plugins" {
		t.Errorf("Paths[0] = %q", cfg.Plugins.Paths[0])
	}
	if cfg.Plugins.Paths[1] != filepath.Join(home, "plugins") {
		t.Errorf("Paths[1] = %q", cfg.Plugins.Paths[1])
	}
	if cfg.Plugins.TempDir != home {
		t.Errorf("TempDir = %q", cfg.Plugins.TempDir)
	}
}

func TestLoadWith_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]any
		wantErr error
	}{
		{"unknown section", map[string]any{"editor": map[string]any{"tabSize": int64(4)}}, ErrUnknownSetting},
		{"unknown key", map[string]any{"lua": map[string]any{"memory": int64(4)}}, ErrUnknownSetting},
		{"bad api version", map[string]any{"host": map[string]any{"apiVersion": "latest"}}, ErrValidationFailed},
		{"bad min version", map[string]any{"plugins": map[string]any{"minVersions": map[string]any{"go": "x"}}}, ErrValidationFailed},
		{"zero timeout", map[string]any{"lua": map[string]any{"executionTimeout": "0s"}}, ErrValidationFailed},
		{"bad level", map[string]any{"logging": map[string]any{"level": "loud"}}, ErrValidationFailed},
		{"bad format", map[string]any{"logging": map[string]any{"format": "xml"}}, ErrValidationFailed},
		{"aux without command", map[string]any{"runtime": map[string]any{"checkAuxRuntime": true, "auxRuntimeCommand": ""}}, ErrValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(nil, "", staticEnv(tt.env))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadWith() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWith_BadDuration(t *testing.T) {
	_, err := LoadWith(nil, "", envFrom("ANALYZERHOST_LUA_EXECUTION_TIMEOUT=soon"))
	if err == nil {
		t.Fatal("LoadWith() should reject an unparsable duration")
	}
}

func TestLoad_ReadsDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[metrics]\naddress = \":9102\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANALYZERHOST_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Address != ":9102" {
		t.Errorf("Address = %q", cfg.Metrics.Address)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestDurationText(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, err := d.MarshalText()
	if err != nil || string(b) != "1.5s" {
		t.Fatalf("MarshalText() = %q, %v", b, err)
	}
	var back Duration
	if err := back.UnmarshalText(b); err != nil || back != d {
		t.Errorf("UnmarshalText() = %v, %v", back, err)
	}
}
