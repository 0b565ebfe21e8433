// Package loader reads raw configuration maps from TOML files and
// environment variables.
package loader

import (
	"io/fs"
	"os"
)

// Loader is the interface for configuration loaders.
type Loader interface {
	// Load reads configuration from the source and returns a map.
	// Returns nil, nil if the source doesn't exist (not an error).
	Load() (map[string]any, error)
}

// FileSystem is the file access a loader needs.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// MapFS adapts an fs.FS, such as fstest.MapFS, to FileSystem.
type MapFS struct {
	FS fs.FS
}

// ReadFile reads the entire file at path.
func (m MapFS) ReadFile(path string) ([]byte, error) {
	return fs.ReadFile(m.FS, path)
}
