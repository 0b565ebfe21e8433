// Package bundle reads plugin bundles: zip archives carrying a plugin.json
// manifest and Lua modules.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ManifestName is the manifest entry at the root of every bundle.
const ManifestName = "plugin.json"

// Errors returned by archive operations.
var (
	// ErrNotFound is returned when an archive entry does not exist.
	ErrNotFound = errors.New("bundle entry not found")

	// ErrOutsideTarget is returned when an extraction target would escape
	// its destination directory.
	ErrOutsideTarget = errors.New("entry is outside of the target dir")

	// ErrClosed is returned when reading from a closed archive.
	ErrClosed = errors.New("bundle archive is closed")
)

// Archive is an open bundle. It is safe for concurrent use.
type Archive struct {
	path string

	mu     sync.Mutex
	rc     *zip.ReadCloser
	files  map[string]*zip.File
	closed bool
}

// Open opens the bundle archive at path.
func Open(p string) (*Archive, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("opening bundle %s: %w", p, err)
	}
	a := &Archive{
		path:  p,
		rc:    rc,
		files: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		a.files[path.Clean(f.Name)] = f
	}
	return a, nil
}

// Path returns the filesystem path of the archive.
func (a *Archive) Path() string {
	return a.path
}

// Has reports whether the archive contains the named entry.
func (a *Archive) Has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[path.Clean(name)]
	return ok
}

// Names returns every file entry in the archive.
func (a *Archive) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.files))
	for name := range a.files {
		names = append(names, name)
	}
	return names
}

// ReadFile returns the content of the named entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	f, ok := a.files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, a.path)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", name, a.path, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Extract copies the named entry into destDir, preserving its relative path,
// and returns the written file. Targets resolving outside destDir are refused.
func (a *Archive) Extract(name, destDir string) (string, error) {
	target, err := SafeJoin(destDir, name)
	if err != nil {
		return "", err
	}
	data, err := a.ReadFile(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", name, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("extracting %s: %w", name, err)
	}
	return target, nil
}

// Close releases the underlying file. Closing twice is a no-op.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.rc.Close()
}

// SafeJoin joins name onto dir and fails closed when the result would not be
// strictly inside dir.
func SafeJoin(dir, name string) (string, error) {
	if !ValidEntryName(name) {
		return "", fmt.Errorf("%w: %s", ErrOutsideTarget, name)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideTarget, name)
	}
	return target, nil
}

// ValidEntryName reports whether name is a relative path that stays inside
// whatever directory it is joined onto.
func ValidEntryName(name string) bool {
	return name != "" && filepath.IsLocal(filepath.FromSlash(name))
}

// IsBundle reports whether the directory entry looks like a plugin bundle.
func IsBundle(d fs.DirEntry) bool {
	return !d.IsDir() && strings.EqualFold(filepath.Ext(d.Name()), ".zip")
}

// ModulePaths returns the archive entries that may hold a dotted Lua module,
// in lookup order: "a.b" maps to "a/b.lua" then "a/b/init.lua".
func ModulePaths(module string) []string {
	base := strings.ReplaceAll(module, ".", "/")
	return []string{base + ".lua", base + "/init.lua"}
}

// ModuleName converts a Lua entry path back to its dotted module name.
// It returns false for entries that are not Lua modules.
func ModuleName(entry string) (string, bool) {
	if path.Ext(entry) != ".lua" {
		return "", false
	}
	base := strings.TrimSuffix(entry, ".lua")
	base = strings.TrimSuffix(base, "/init")
	if base == "" || base == "init" {
		return "", false
	}
	return strings.ReplaceAll(base, "/", "."), true
}
