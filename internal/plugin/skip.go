package plugin

import (
	"fmt"
	"strings"
)

// SkipReason explains why a plugin is not eligible to load. It is an
// informational outcome, not an error. The concrete types are
// LanguagesNotEnabled, IncompatibleHostAPI, IncompatiblePluginVersion,
// UnsatisfiedRuntimeRequirement and UnsatisfiedDependency.
type SkipReason interface {
	// Explain returns a human-readable explanation for end users.
	Explain() string
	skipReason()
}

// LanguagesNotEnabled is reported when none of the plugin's languages is enabled.
type LanguagesNotEnabled struct {
	Languages []Language
}

// IncompatibleHostAPI is reported when the plugin needs a newer host API.
type IncompatibleHostAPI struct {
	Required string
	Current  string
}

// IncompatiblePluginVersion is reported when the plugin is older than the
// externally curated minimum.
type IncompatiblePluginVersion struct {
	MinRequired string
}

// RuntimeKind identifies a runtime a plugin can require.
type RuntimeKind string

// Runtime kinds.
const (
	Runtime    RuntimeKind = "runtime"
	AuxRuntime RuntimeKind = "aux-runtime"
)

// UnsatisfiedRuntimeRequirement is reported when a runtime is missing or too
// old. Current is empty when the runtime is not installed.
type UnsatisfiedRuntimeRequirement struct {
	Kind     RuntimeKind
	Current  string
	Required string
}

// UnsatisfiedDependency is reported when a required or base plugin is missing
// or itself skipped.
type UnsatisfiedDependency struct {
	MissingKey string
}

func (LanguagesNotEnabled) skipReason()           {}
func (IncompatibleHostAPI) skipReason()           {}
func (IncompatiblePluginVersion) skipReason()     {}
func (UnsatisfiedRuntimeRequirement) skipReason() {}
func (UnsatisfiedDependency) skipReason()         {}

// Explain implements SkipReason.
func (r LanguagesNotEnabled) Explain() string {
	names := make([]string, len(r.Languages))
	for i, l := range r.Languages {
		names[i] = string(l)
	}
	if len(names) == 1 {
		return fmt.Sprintf("language %s is not enabled", names[0])
	}
	return fmt.Sprintf("none of languages %s are enabled", strings.Join(names, ","))
}

// Explain implements SkipReason.
func (r IncompatibleHostAPI) Explain() string {
	return fmt.Sprintf("requires host API %s while only up to %s is supported", r.Required, r.Current)
}

// Explain implements SkipReason.
func (r IncompatiblePluginVersion) Explain() string {
	return fmt.Sprintf("plugin version is not supported, minimal version is %s", r.MinRequired)
}

// Explain implements SkipReason.
func (r UnsatisfiedRuntimeRequirement) Explain() string {
	if r.Current == "" {
		return fmt.Sprintf("requires %s >= %s, none is available", r.Kind, r.Required)
	}
	return fmt.Sprintf("requires %s >= %s, current is %s", r.Kind, r.Required, r.Current)
}

// Explain implements SkipReason.
func (r UnsatisfiedDependency) Explain() string {
	return fmt.Sprintf("dependency on %s is unsatisfied", r.MissingKey)
}

// CheckResult is the eligibility outcome for one plugin.
type CheckResult struct {
	Descriptor *Descriptor
	Skip       SkipReason // nil when eligible
}

// Skipped reports whether the plugin carries a skip reason.
func (r CheckResult) Skipped() bool {
	return r.Skip != nil
}

// Results maps plugin keys to their eligibility.
type Results map[string]CheckResult

// Eligible returns the eligible descriptors ordered by key.
func (rs Results) Eligible() []*Descriptor {
	var out []*Descriptor
	for _, r := range rs {
		if !r.Skipped() {
			out = append(out, r.Descriptor)
		}
	}
	return SortedByKey(out)
}

// Skipped returns the skipped results keyed by plugin.
func (rs Results) Skipped() map[string]SkipReason {
	out := make(map[string]SkipReason)
	for k, r := range rs {
		if r.Skipped() {
			out[k] = r.Skip
		}
	}
	return out
}
