package plugin

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dshills/analyzerhost/internal/version"
)

//go:embed minversions.yaml
var defaultMinVersions []byte

// MinVersionRegistry returns, per plugin key, an externally curated minimum
// supported version independent of what the bundle declares about itself.
type MinVersionRegistry interface {
	MinimumVersion(key string) (version.Version, bool)
}

// MinVersions is a MinVersionRegistry backed by a static table.
type MinVersions struct {
	versions map[string]version.Version
}

type minVersionsFile struct {
	Plugins map[string]string `yaml:"plugins"`
}

// DefaultMinVersions returns the registry shipped with the host.
func DefaultMinVersions() *MinVersions {
	mv, err := ParseMinVersions(defaultMinVersions)
	if err != nil {
		panic(fmt.Sprintf("embedded minimum versions: %v", err))
	}
	return mv
}

// ParseMinVersions parses a YAML document with a top-level "plugins" map.
func ParseMinVersions(data []byte) (*MinVersions, error) {
	var f minVersionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing minimum versions: %w", err)
	}
	return NewMinVersions(f.Plugins)
}

// NewMinVersions builds a registry from key -> version strings.
func NewMinVersions(table map[string]string) (*MinVersions, error) {
	mv := &MinVersions{versions: make(map[string]version.Version, len(table))}
	for key, raw := range table {
		v, err := version.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("minimum version of %s: %w", key, err)
		}
		mv.versions[key] = v
	}
	return mv, nil
}

// With returns a copy of the registry with overrides applied on top.
func (mv *MinVersions) With(overrides map[string]string) (*MinVersions, error) {
	extra, err := NewMinVersions(overrides)
	if err != nil {
		return nil, err
	}
	merged := &MinVersions{versions: make(map[string]version.Version, len(mv.versions)+len(extra.versions))}
	for k, v := range mv.versions {
		merged.versions[k] = v
	}
	for k, v := range extra.versions {
		merged.versions[k] = v
	}
	return merged, nil
}

// MinimumVersion implements MinVersionRegistry.
func (mv *MinVersions) MinimumVersion(key string) (version.Version, bool) {
	v, ok := mv.versions[key]
	return v, ok
}

// IsVersionSupported reports whether v satisfies the registered floor for key.
// Keys without a floor are always supported.
func IsVersionSupported(reg MinVersionRegistry, key string, v version.Version) bool {
	min, ok := reg.MinimumVersion(key)
	if !ok {
		return true
	}
	return v.SatisfiesMin(min)
}
