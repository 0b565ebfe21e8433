// Package bundletest builds plugin bundles for tests.
package bundletest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Manifest mirrors the plugin.json fields used in tests. Empty fields are
// omitted from the generated JSON.
type Manifest struct {
	Key                  string   `json:"key,omitempty"`
	Name                 string   `json:"name,omitempty"`
	Version              string   `json:"version,omitempty"`
	EntryPoint           string   `json:"entryPoint,omitempty"`
	BasePlugin           string   `json:"basePlugin,omitempty"`
	RequirePlugins       []string `json:"requirePlugins,omitempty"`
	MinHostAPIVersion    string   `json:"minHostApiVersion,omitempty"`
	MinRuntimeVersion    string   `json:"minRuntimeVersion,omitempty"`
	MinAuxRuntimeVersion string   `json:"minAuxRuntimeVersion,omitempty"`
	Languages            []string `json:"languages,omitempty"`
	EmbeddedResources    []string `json:"embeddedResources,omitempty"`
}

// Zip returns the bytes of a zip archive holding files.
func Zip(t testing.TB, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// Write writes a bundle with the given manifest and Lua sources into dir and
// returns its path. The file is named after the manifest key.
func Write(t testing.TB, dir string, m Manifest, sources map[string]string) string {
	t.Helper()

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	files := map[string][]byte{"plugin.json": data}
	for name, src := range sources {
		files[name] = []byte(src)
	}
	return WriteFiles(t, dir, m.Key+".zip", files)
}

// WriteFiles writes an arbitrary zip archive into dir.
func WriteFiles(t testing.TB, dir, name string, files map[string][]byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, Zip(t, files), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return p
}

// EntryModule returns Lua source for an entry point that returns a table
// with a describe() method reporting key.
func EntryModule(key string) string {
	return `local M = {}
function M.describe() return "` + key + `" end
return M
`
}
