package loader

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestTOMLLoader_Load(t *testing.T) {
	fsys := MapFS{FS: fstest.MapFS{
		"config.toml": {Data: []byte(`
[plugins]
paths = ["/opt/plugins"]
enabledLanguages = ["go", "java"]

[lua]
executionTimeout = "2s"
`)},
	}}

	cfg, err := NewTOMLLoaderWithFS(fsys, "config.toml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	plugins, ok := cfg["plugins"].(map[string]any)
	if !ok {
		t.Fatalf("plugins section missing: %v", cfg)
	}
	langs, ok := plugins["enabledLanguages"].([]any)
	if !ok || len(langs) != 2 {
		t.Errorf("enabledLanguages = %v", plugins["enabledLanguages"])
	}
	lua := cfg["lua"].(map[string]any)
	if lua["executionTimeout"] != "2s" {
		t.Errorf("executionTimeout = %v", lua["executionTimeout"])
	}
}

func TestTOMLLoader_Missing(t *testing.T) {
	cfg, err := NewTOMLLoaderWithFS(MapFS{FS: fstest.MapFS{}}, "absent.toml").Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg != nil {
		t.Errorf("Load() = %v, want nil", cfg)
	}
}

func TestTOMLLoader_ParseError(t *testing.T) {
	fsys := MapFS{FS: fstest.MapFS{
		"bad.toml": {Data: []byte("[plugins]\npaths = [\n")},
	}}

	_, err := NewTOMLLoaderWithFS(fsys, "bad.toml").Load()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
	if pe.Path != "bad.toml" {
		t.Errorf("Path = %q", pe.Path)
	}
	if pe.Line == 0 {
		t.Error("Line should be set from the decoder position")
	}
}

func TestTOMLLoader_Includes(t *testing.T) {
	fsys := MapFS{FS: fstest.MapFS{
		"conf/main.toml": {Data: []byte(`
"@include" = ["base.toml"]

[logging]
level = "debug"
`)},
		"conf/base.toml": {Data: []byte(`
[logging]
level = "info"
format = "json"
`)},
	}}

	cfg, err := NewTOMLLoaderWithFS(fsys, "").LoadWithIncludes("conf/main.toml", 4)
	if err != nil {
		t.Fatalf("LoadWithIncludes() error = %v", err)
	}
	if _, ok := cfg[IncludeKey]; ok {
		t.Error("@include key should be removed")
	}
	logging := cfg["logging"].(map[string]any)
	if logging["level"] != "debug" {
		t.Errorf("level = %v, want including file to win", logging["level"])
	}
	if logging["format"] != "json" {
		t.Errorf("format = %v, want value from include", logging["format"])
	}
}

func TestTOMLLoader_IncludeCycle(t *testing.T) {
	fsys := MapFS{FS: fstest.MapFS{
		"a.toml": {Data: []byte(`"@include" = "b.toml"`)},
		"b.toml": {Data: []byte(`"@include" = "a.toml"`)},
	}}

	_, err := NewTOMLLoaderWithFS(fsys, "").LoadWithIncludes("a.toml", 3)
	if !errors.Is(err, ErrIncludeDepthExceeded) {
		t.Errorf("error = %v, want ErrIncludeDepthExceeded", err)
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"plugins": map[string]any{"paths": []any{"a"}, "tempDir": "/tmp"},
		"host":    map[string]any{"apiVersion": "10.0"},
	}
	src := map[string]any{
		"plugins": map[string]any{"paths": []any{"b"}},
		"logging": map[string]any{"level": "warn"},
	}

	got := DeepMerge(dst, src)

	plugins := got["plugins"].(map[string]any)
	if paths := plugins["paths"].([]any); len(paths) != 1 || paths[0] != "b" {
		t.Errorf("paths = %v, want [b]", paths)
	}
	if plugins["tempDir"] != "/tmp" {
		t.Errorf("tempDir = %v, want preserved", plugins["tempDir"])
	}
	if _, ok := got["logging"]; !ok {
		t.Error("logging section not merged")
	}

	if got := DeepMerge(nil, src); got["logging"] == nil {
		t.Error("DeepMerge(nil, src) lost src")
	}
}
