package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IncludeKey lists other files merged underneath the including file.
const IncludeKey = "@include"

// ErrIncludeDepthExceeded is returned when @include directives nest too deep.
var ErrIncludeDepthExceeded = errors.New("include depth exceeded")

// TOMLLoader loads configuration from TOML files.
type TOMLLoader struct {
	fs   FileSystem
	path string
}

// NewTOMLLoader creates a new TOML loader for the given path.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader with a custom file system.
func NewTOMLLoaderWithFS(fsys FileSystem, path string) *TOMLLoader {
	return &TOMLLoader{
		fs:   fsys,
		path: path,
	}
}

// Load reads configuration from the configured path.
func (l *TOMLLoader) Load() (map[string]any, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads configuration from a specific path.
func (l *TOMLLoader) LoadFrom(path string) (map[string]any, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // File doesn't exist, not an error
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return parse(path, data)
}

func parse(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	return config, nil
}

// LoadWithIncludes loads a TOML file and processes @include directives.
// Included files are merged underneath the including file. The maxDepth
// parameter limits nesting.
func (l *TOMLLoader) LoadWithIncludes(path string, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncludeDepthExceeded, path)
	}

	config, err := l.LoadFrom(path)
	if err != nil || config == nil {
		return nil, err
	}

	includes, ok := config[IncludeKey]
	if !ok {
		return config, nil
	}
	delete(config, IncludeKey)

	var includeList []string
	switch v := includes.(type) {
	case string:
		includeList = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be string or array of strings", IncludeKey)
			}
			includeList = append(includeList, s)
		}
	default:
		return nil, fmt.Errorf("%s must be string or array of strings, got %T", IncludeKey, includes)
	}

	baseDir := filepath.Dir(path)
	for _, inc := range includeList {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(baseDir, inc)
		}
		incConfig, err := l.LoadWithIncludes(incPath, maxDepth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", incPath, err)
		}
		config = DeepMerge(incConfig, config)
	}
	return config, nil
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DeepMerge recursively merges src into dst.
// Values in src override values in dst.
// Maps are merged recursively; other types are replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
		} else {
			dst[key] = srcVal
		}
	}
	return dst
}
