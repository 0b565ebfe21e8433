package plugin

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dshills/analyzerhost/internal/version"
)

// Language is a source language a plugin analyzes.
type Language string

// LanguageSet is a set of languages.
type LanguageSet map[Language]struct{}

// NewLanguageSet returns a set holding langs.
func NewLanguageSet(langs ...Language) LanguageSet {
	s := make(LanguageSet, len(langs))
	for _, l := range langs {
		s[l] = struct{}{}
	}
	return s
}

// Contains reports whether l is in the set.
func (s LanguageSet) Contains(l Language) bool {
	_, ok := s[l]
	return ok
}

// Sorted returns the languages in lexical order.
func (s LanguageSet) Sorted() []Language {
	out := make([]Language, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// RequiredPlugin is a declared dependency on another plugin.
type RequiredPlugin struct {
	Key        string
	MinVersion string // empty when unconstrained
}

func (r RequiredPlugin) String() string {
	if r.MinVersion == "" {
		return r.Key
	}
	return r.Key + ":" + r.MinVersion
}

// Descriptor is the immutable model of one plugin bundle. Descriptors are
// created at discovery time and must not be modified afterwards.
type Descriptor struct {
	Key         string
	Name        string
	Description string
	Version     version.Version
	EntryPoint  string
	BasePlugin  string // empty when the plugin extends nothing
	Required    []RequiredPlugin

	MinHostAPI    *version.Version
	MinRuntime    *version.Version
	MinAuxRuntime *version.Version

	Languages         []Language
	EmbeddedResources []string

	// BundlePath is the archive the descriptor was read from.
	BundlePath string
}

// DisplayName returns Name, falling back to Key.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Key
}

// HasEmbeddedResources reports whether the bundle embeds extra archives.
func (d *Descriptor) HasEmbeddedResources() bool {
	return len(d.EmbeddedResources) > 0
}

// String returns a short representation of the descriptor.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s v%s", d.DisplayName(), d.Version)
}

// LanguageNames renders the declared languages, comma separated.
func (d *Descriptor) LanguageNames() string {
	names := make([]string, len(d.Languages))
	for i, l := range d.Languages {
		names[i] = string(l)
	}
	return strings.Join(names, ",")
}

// Index builds a key -> descriptor map.
func Index(descs []*Descriptor) map[string]*Descriptor {
	m := make(map[string]*Descriptor, len(descs))
	for _, d := range descs {
		m[d.Key] = d
	}
	return m
}

// SortedByKey returns a copy of descs ordered by key.
func SortedByKey(descs []*Descriptor) []*Descriptor {
	out := slices.Clone(descs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
