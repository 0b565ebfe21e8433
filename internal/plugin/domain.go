package plugin

import (
	"context"
	"slices"
	"sort"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
)

// exportConventions are the namespace roots under which a plugin publishes
// its API to other domains: member k exports "<root>.<k>.api.".
var exportConventions = []string{"plugins", "analyzers"}

// sharedNamespaces are visible from every domain.
var sharedNamespaces = []string{plua.HostNamespace + ".", plua.LogNamespace + "."}

// ExportMask is a positive allow-list of module-name prefixes a domain
// exposes to other domains. Anything unmatched is invisible.
type ExportMask struct {
	inclusions []string
}

// AddInclusion appends a prefix unless already present.
func (m *ExportMask) AddInclusion(prefix string) {
	if !slices.Contains(m.inclusions, prefix) {
		m.inclusions = append(m.inclusions, prefix)
	}
}

// Inclusions returns the allowed prefixes in insertion order.
func (m *ExportMask) Inclusions() []string {
	return slices.Clone(m.inclusions)
}

// Allows reports whether module is exported. A prefix "a.b." allows "a.b"
// itself and anything below it.
func (m *ExportMask) Allows(module string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.inclusions {
		if strings.HasPrefix(module+".", p) {
			return true
		}
	}
	return false
}

// Source is one member's contribution to a domain's content.
type Source struct {
	PluginKey         string
	BundlePath        string
	EmbeddedResources []string
}

// Domain is a group of plugins sharing one loading context because they
// extend a common base plugin.
type Domain struct {
	// Key is the resolved base-plugin key.
	Key string

	// Members lists plugin keys in insertion order.
	Members []string

	// Sources lists bundle content in member insertion order.
	Sources []Source

	// Mask is what the domain exposes to other domains.
	Mask *ExportMask

	// EntryPoints maps member keys to entry-point module names.
	EntryPoints map[string]string
}

// HasMember reports whether key belongs to the domain.
func (d *Domain) HasMember(key string) bool {
	return slices.Contains(d.Members, key)
}

// ResolveBaseKey follows base-plugin pointers to the root of the chain. It
// returns false, and logs, when a link is missing or the chain loops.
func ResolveBaseKey(ctx context.Context, d *Descriptor, all map[string]*Descriptor) (string, bool) {
	base := d.Key
	parent := d.BasePlugin
	visited := map[string]bool{d.Key: true}

	for parent != "" {
		p, ok := all[parent]
		if !ok {
			slogcontext.Warn(ctx, "unable to find base plugin", "base", parent, "plugin", base)
			return "", false
		}
		if visited[p.Key] {
			slogcontext.Warn(ctx, "base plugin chain loops", "base", parent, "plugin", d.Key)
			return "", false
		}
		visited[p.Key] = true
		base = p.Key
		parent = p.BasePlugin
	}
	return base, true
}

// PlanDomains groups eligible descriptors by resolved base key. Plugins with
// a broken base chain are excluded. The plan depends only on the set of
// descriptors, not on their order; domains are returned sorted by key.
func PlanDomains(ctx context.Context, eligible []*Descriptor) []*Domain {
	sorted := SortedByKey(eligible)
	all := Index(sorted)
	byBase := make(map[string]*Domain)

	for _, d := range sorted {
		baseKey, ok := ResolveBaseKey(ctx, d, all)
		if !ok {
			continue
		}
		dom, ok := byBase[baseKey]
		if !ok {
			dom = &Domain{
				Key:         baseKey,
				Mask:        &ExportMask{},
				EntryPoints: make(map[string]string),
			}
			for _, ns := range sharedNamespaces {
				dom.Mask.AddInclusion(ns)
			}
			byBase[baseKey] = dom
		}

		dom.Members = append(dom.Members, d.Key)
		dom.Sources = append(dom.Sources, Source{
			PluginKey:         d.Key,
			BundlePath:        d.BundlePath,
			EmbeddedResources: slices.Clone(d.EmbeddedResources),
		})
		dom.EntryPoints[d.Key] = d.EntryPoint
		for _, root := range exportConventions {
			dom.Mask.AddInclusion(root + "." + d.Key + ".api.")
		}
	}

	domains := make([]*Domain, 0, len(byBase))
	for _, dom := range byBase {
		domains = append(domains, dom)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Key < domains[j].Key })
	return domains
}
