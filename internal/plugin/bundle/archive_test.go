package bundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/analyzerhost/internal/plugin/bundle"
	"github.com/dshills/analyzerhost/internal/plugin/bundle/bundletest"
)

func TestArchiveReadAndExtract(t *testing.T) {
	dir := t.TempDir()
	p := bundletest.WriteFiles(t, dir, "sample.zip", map[string][]byte{
		"plugin.json":        []byte(`{"key":"sample"}`),
		"lib/nested.zip":     []byte("nested"),
		"plugins/a/init.lua": []byte("return {}"),
	})

	a, err := bundle.Open(p)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Has("plugin.json"))
	assert.False(t, a.Has("missing.lua"))
	assert.ElementsMatch(t, []string{"plugin.json", "lib/nested.zip", "plugins/a/init.lua"}, a.Names())

	data, err := a.ReadFile("plugin.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"sample"}`, string(data))

	_, err = a.ReadFile("missing.lua")
	assert.ErrorIs(t, err, bundle.ErrNotFound)

	dest := t.TempDir()
	out, err := a.Extract("lib/nested.zip", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "lib", "nested.zip"), out)
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "nested", string(content))
}

func TestArchiveCloseIsIdempotent(t *testing.T) {
	p := bundletest.WriteFiles(t, t.TempDir(), "x.zip", map[string][]byte{"a.lua": []byte("")})
	a, err := bundle.Open(p)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.ReadFile("a.lua")
	assert.ErrorIs(t, err, bundle.ErrClosed)
}

func TestOpenRejectsNonZip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o644))

	_, err := bundle.Open(p)
	assert.Error(t, err)
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		ok   bool
	}{
		{"lib/a.zip", true},
		{"a.zip", true},
		{"../escape.zip", false},
		{"lib/../../escape.zip", false},
		{"/etc/passwd", false},
		{"", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bundle.SafeJoin(dir, tt.name)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, filepath.IsAbs(got))
				return
			}
			assert.ErrorIs(t, err, bundle.ErrOutsideTarget)
		})
	}
}

func TestExtractRefusesTraversal(t *testing.T) {
	p := bundletest.WriteFiles(t, t.TempDir(), "evil.zip", map[string][]byte{
		"../evil.zip": []byte("x"),
	})
	a, err := bundle.Open(p)
	require.NoError(t, err)
	defer a.Close()

	dest := t.TempDir()
	_, err = a.Extract("../evil.zip", dest)
	assert.ErrorIs(t, err, bundle.ErrOutsideTarget)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "evil.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestModulePaths(t *testing.T) {
	assert.Equal(t, []string{"plugins/java/entry.lua", "plugins/java/entry/init.lua"}, bundle.ModulePaths("plugins.java.entry"))

	name, ok := bundle.ModuleName("plugins/java/api/init.lua")
	require.True(t, ok)
	assert.Equal(t, "plugins.java.api", name)

	name, ok = bundle.ModuleName("util.lua")
	require.True(t, ok)
	assert.Equal(t, "util", name)

	_, ok = bundle.ModuleName("plugin.json")
	assert.False(t, ok)
	_, ok = bundle.ModuleName("init.lua")
	assert.False(t, ok)
}
