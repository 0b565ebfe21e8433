// Package version models plugin, host-API and runtime versions.
//
// Versions are parsed leniently: "9.9", "7.30.1.12345", "1.0-SNAPSHOT" and
// "v18.17.0" are all accepted. Numeric components beyond the third are kept
// as build metadata and do not take part in comparisons.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion is returned when a version string cannot be parsed.
var ErrInvalidVersion = errors.New("invalid version")

// Version is an immutable parsed version.
type Version struct {
	raw string
	sv  *semver.Version
}

// Parse parses a version string.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}
	sv, err := semver.NewVersion(normalize(raw))
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %v", ErrInvalidVersion, raw, err)
	}
	return Version{raw: raw, sv: sv}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// normalize folds "a.b.c.d[-q]" into "a.b.c-q+d" so that semver accepts it.
func normalize(s string) string {
	core, rest := s, ""
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		core, rest = s[:i], s[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) <= 3 {
		return s
	}
	extra := strings.Join(parts[3:], ".")
	core = strings.Join(parts[:3], ".")
	if strings.Contains(rest, "+") {
		return core + rest + "." + extra
	}
	return core + rest + "+" + extra
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v.sv == nil
}

// Major returns the major component.
func (v Version) Major() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Major()
}

// Minor returns the minor component.
func (v Version) Minor() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Minor()
}

// Qualifier returns the pre-release qualifier, e.g. "SNAPSHOT".
func (v Version) Qualifier() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.Prerelease()
}

// String returns the version as originally written.
func (v Version) String() string {
	return v.raw
}

// WithoutQualifier returns v with its pre-release qualifier removed.
func (v Version) WithoutQualifier() Version {
	if v.sv == nil || v.sv.Prerelease() == "" {
		return v
	}
	stripped, err := v.sv.SetPrerelease("")
	if err != nil {
		return v
	}
	raw := v.raw
	if i := strings.Index(raw, "-"); i >= 0 {
		raw = raw[:i]
	}
	return Version{raw: raw, sv: &stripped}
}

// Compare returns -1, 0 or 1. Build metadata is ignored.
func (v Version) Compare(o Version) int {
	switch {
	case v.sv == nil && o.sv == nil:
		return 0
	case v.sv == nil:
		return -1
	case o.sv == nil:
		return 1
	}
	return v.sv.Compare(o.sv)
}

// SatisfiesMin reports whether v is at least min, ignoring qualifiers on both
// sides so that "1.2.0-SNAPSHOT" satisfies a "1.2" requirement.
func (v Version) SatisfiesMin(min Version) bool {
	return v.WithoutQualifier().Compare(min.WithoutQualifier()) >= 0
}

// SatisfiesMinMajorMinor compares only the (major, minor) pair.
func (v Version) SatisfiesMinMajorMinor(min Version) bool {
	if v.Major() != min.Major() {
		return v.Major() > min.Major()
	}
	return v.Minor() >= min.Minor()
}

// MajorMinor renders the "major.minor" pair.
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}
