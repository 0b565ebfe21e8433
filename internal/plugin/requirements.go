package plugin

import (
	"context"
	"fmt"
	"sort"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/dshills/analyzerhost/internal/version"
)

// Environment is what the host offers to plugins for one resolution.
type Environment struct {
	EnabledLanguages LanguageSet
	HostAPIVersion   version.Version
	RuntimeVersion   version.Version

	// CheckAuxRuntime enables rule 5. AuxRuntimeVersion is nil when no
	// auxiliary runtime is installed.
	CheckAuxRuntime   bool
	AuxRuntimeVersion *version.Version
}

// NewEnvironment resolves an Environment through a HostVersions cache.
func NewEnvironment(ctx context.Context, hv *version.HostVersions, enabled LanguageSet, checkAux bool) (Environment, error) {
	rt, err := hv.Runtime(ctx)
	if err != nil {
		return Environment{}, fmt.Errorf("resolving runtime version: %w", err)
	}
	env := Environment{
		EnabledLanguages: enabled,
		HostAPIVersion:   hv.HostAPI(),
		RuntimeVersion:   rt,
		CheckAuxRuntime:  checkAux,
	}
	if checkAux {
		env.AuxRuntimeVersion = hv.AuxRuntime(ctx)
	}
	return env, nil
}

// compatibilityOnlyDependencies lists dependencies that only exist to ease
// migration on servers and are ignored by this host. The key is the required
// plugin; the value restricts the rule to one dependent plugin ("" = any).
var compatibilityOnlyDependencies = map[string]string{
	"license":    "",
	"typescript": "javascript",
}

func isIgnorableDependency(pluginKey, requiredKey string) bool {
	dependent, ok := compatibilityOnlyDependencies[requiredKey]
	return ok && (dependent == "" || dependent == pluginKey)
}

// Checker decides which plugins are eligible to load. It holds no mutable
// state and is safe for concurrent use.
type Checker struct {
	minVersions MinVersionRegistry
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithMinVersions sets the minimum-version registry.
func WithMinVersions(reg MinVersionRegistry) CheckerOption {
	return func(c *Checker) {
		c.minVersions = reg
	}
}

// NewChecker creates a Checker using the embedded minimum-version table
// unless overridden.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{}
	for _, opt := range opts {
		opt(c)
	}
	if c.minVersions == nil {
		c.minVersions = DefaultMinVersions()
	}
	return c
}

// CheckBundles parses every bundle and checks requirements. Unreadable bundles
// are logged and omitted. Two bundles with the same key fail the whole batch
// with a *DuplicatePluginKeyError and no results.
func (c *Checker) CheckBundles(ctx context.Context, bundlePaths []string, env Environment) (Results, error) {
	descs, err := DiscoverBundles(ctx, bundlePaths)
	if err != nil {
		return nil, err
	}
	return c.CheckRequirements(ctx, descs, env), nil
}

// CheckRequirements runs both passes over candidates. Candidates must have
// unique keys.
//
// Pass 2 is a single round over the keys in lexical order, updating results
// in place: a chain deeper than one hop (a -> b -> c with c skipped) is only
// fully propagated when the intermediate plugin is visited first.
func (c *Checker) CheckRequirements(ctx context.Context, candidates []*Descriptor, env Environment) Results {
	results := make(Results, len(candidates))
	for _, d := range candidates {
		results[d.Key] = CheckResult{Descriptor: d, Skip: c.firstPass(ctx, d, env)}
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		r := results[k]
		if r.Skipped() {
			continue
		}
		if missing, ok := unsatisfiedDependency(r.Descriptor, results); ok {
			slogcontext.Debug(ctx, "plugin dependency is unsatisfied, skip loading it",
				"plugin", r.Descriptor.DisplayName(), "dependency", missing)
			results[k] = CheckResult{Descriptor: r.Descriptor, Skip: UnsatisfiedDependency{MissingKey: missing}}
		}
	}
	return results
}

// firstPass applies the per-plugin rules; the first match wins.
func (c *Checker) firstPass(ctx context.Context, d *Descriptor, env Environment) SkipReason {
	name := d.DisplayName()

	if len(d.Languages) > 0 && !anyEnabled(d.Languages, env.EnabledLanguages) {
		slogcontext.Debug(ctx, "plugin is excluded because its languages are not enabled, skip loading it",
			"plugin", name, "languages", d.LanguageNames())
		return LanguagesNotEnabled{Languages: d.Languages}
	}

	if d.MinHostAPI != nil && !env.HostAPIVersion.SatisfiesMinMajorMinor(*d.MinHostAPI) {
		slogcontext.Debug(ctx, "plugin requires a newer host API, skip loading it",
			"plugin", name, "required", d.MinHostAPI.String(), "supported", env.HostAPIVersion.MajorMinor())
		return IncompatibleHostAPI{Required: d.MinHostAPI.MajorMinor(), Current: env.HostAPIVersion.MajorMinor()}
	}

	if min, ok := c.minVersions.MinimumVersion(d.Key); ok && !d.Version.SatisfiesMin(min) {
		slogcontext.Debug(ctx, "plugin version is not supported, skip loading it",
			"plugin", name, "version", d.Version.String(), "minimal", min.String())
		return IncompatiblePluginVersion{MinRequired: min.String()}
	}

	if d.MinRuntime != nil && !env.RuntimeVersion.SatisfiesMin(*d.MinRuntime) {
		slogcontext.Debug(ctx, "plugin requires a newer runtime, skip loading it",
			"plugin", name, "required", d.MinRuntime.String(), "current", env.RuntimeVersion.String())
		return UnsatisfiedRuntimeRequirement{Kind: Runtime, Current: env.RuntimeVersion.String(), Required: d.MinRuntime.String()}
	}

	if env.CheckAuxRuntime && d.MinAuxRuntime != nil {
		if env.AuxRuntimeVersion == nil {
			slogcontext.Debug(ctx, "plugin requires an auxiliary runtime, skip loading it",
				"plugin", name, "required", d.MinAuxRuntime.String())
			return UnsatisfiedRuntimeRequirement{Kind: AuxRuntime, Required: d.MinAuxRuntime.String()}
		}
		if !env.AuxRuntimeVersion.SatisfiesMin(*d.MinAuxRuntime) {
			slogcontext.Debug(ctx, "plugin requires a newer auxiliary runtime, skip loading it",
				"plugin", name, "required", d.MinAuxRuntime.String(), "current", env.AuxRuntimeVersion.String())
			return UnsatisfiedRuntimeRequirement{Kind: AuxRuntime, Current: env.AuxRuntimeVersion.String(), Required: d.MinAuxRuntime.String()}
		}
	}

	return nil
}

func anyEnabled(langs []Language, enabled LanguageSet) bool {
	for _, l := range langs {
		if enabled.Contains(l) {
			return true
		}
	}
	return false
}

// unsatisfiedDependency returns the first required or base plugin that is
// absent from results or skipped.
func unsatisfiedDependency(d *Descriptor, results Results) (string, bool) {
	for _, req := range d.Required {
		if isIgnorableDependency(d.Key, req.Key) {
			continue
		}
		if dep, ok := results[req.Key]; !ok || dep.Skipped() {
			return req.Key, true
		}
	}
	if d.BasePlugin != "" {
		if base, ok := results[d.BasePlugin]; !ok || base.Skipped() {
			return d.BasePlugin, true
		}
	}
	return "", false
}
