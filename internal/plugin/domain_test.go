package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExportMaskAllows(t *testing.T) {
	m := &ExportMask{}
	m.AddInclusion("plugins.go.api.")
	m.AddInclusion("host.")
	m.AddInclusion("plugins.go.api.")

	assert.Equal(t, []string{"plugins.go.api.", "host."}, m.Inclusions())

	tests := []struct {
		module string
		want   bool
	}{
		{"plugins.go.api", true},
		{"plugins.go.api.rules", true},
		{"plugins.go.apix", false},
		{"plugins.go.internal", false},
		{"plugins.go", false},
		{"host", true},
		{"hostile", false},
		{"analyzers.go.api", false},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Allows(tt.module))
		})
	}

	var nilMask *ExportMask
	assert.False(t, nilMask.Allows("host"))
}

func TestResolveBaseKey(t *testing.T) {
	all := Index([]*Descriptor{
		desc("root"),
		desc("mid", func(d *Descriptor) { d.BasePlugin = "root" }),
		desc("leaf", func(d *Descriptor) { d.BasePlugin = "mid" }),
		desc("orphan", func(d *Descriptor) { d.BasePlugin = "nowhere" }),
		desc("x", func(d *Descriptor) { d.BasePlugin = "y" }),
		desc("y", func(d *Descriptor) { d.BasePlugin = "x" }),
	})
	ctx := context.Background()

	key, ok := ResolveBaseKey(ctx, all["leaf"], all)
	assert.True(t, ok)
	assert.Equal(t, "root", key)

	key, ok = ResolveBaseKey(ctx, all["root"], all)
	assert.True(t, ok)
	assert.Equal(t, "root", key)

	_, ok = ResolveBaseKey(ctx, all["orphan"], all)
	assert.False(t, ok)

	_, ok = ResolveBaseKey(ctx, all["x"], all)
	assert.False(t, ok)
}

func TestPlanDomains(t *testing.T) {
	eligible := []*Descriptor{
		desc("kotlin", func(d *Descriptor) { d.BasePlugin = "java"; d.EntryPoint = "kotlin.main" }),
		desc("java", func(d *Descriptor) {
			d.EntryPoint = "java.main"
			d.BundlePath = "/p/java.zip"
			d.EmbeddedResources = []string{"lib/a.zip"}
		}),
		desc("go"),
		desc("lost", func(d *Descriptor) { d.BasePlugin = "ghost" }),
	}

	domains := PlanDomains(context.Background(), eligible)
	require.Len(t, domains, 2)

	gd, jd := domains[0], domains[1]
	assert.Equal(t, "go", gd.Key)
	assert.Equal(t, []string{"go"}, gd.Members)

	assert.Equal(t, "java", jd.Key)
	assert.Equal(t, []string{"java", "kotlin"}, jd.Members)
	assert.True(t, jd.HasMember("kotlin"))
	assert.False(t, jd.HasMember("go"))
	assert.Equal(t, map[string]string{"java": "java.main", "kotlin": "kotlin.main"}, jd.EntryPoints)
	require.Len(t, jd.Sources, 2)
	assert.Equal(t, Source{PluginKey: "java", BundlePath: "/p/java.zip", EmbeddedResources: []string{"lib/a.zip"}}, jd.Sources[0])

	assert.True(t, jd.Mask.Allows("plugins.kotlin.api.rules"))
	assert.True(t, jd.Mask.Allows("analyzers.java.api"))
	assert.True(t, jd.Mask.Allows("log"))
	assert.False(t, jd.Mask.Allows("plugins.go.api"))
	assert.False(t, jd.Mask.Allows("java.main"))
}

func TestPlanDomainsIdempotent(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f"}
	rapid.Check(t, func(t *rapid.T) {
		var descs []*Descriptor
		for _, k := range keys {
			base := rapid.SampledFrom(append([]string{""}, keys...)).Draw(t, "base-"+k)
			if base == k {
				base = ""
			}
			descs = append(descs, desc(k, func(d *Descriptor) { d.BasePlugin = base }))
		}
		shuffled := rapid.Permutation(descs).Draw(t, "order")

		first := membership(PlanDomains(context.Background(), descs))
		second := membership(PlanDomains(context.Background(), shuffled))
		again := membership(PlanDomains(context.Background(), descs))

		if len(first) != len(second) || len(first) != len(again) {
			t.Fatalf("domain count differs: %v / %v / %v", first, second, again)
		}
		for k, members := range first {
			if !equalStrings(members, second[k]) || !equalStrings(members, again[k]) {
				t.Fatalf("domain %s differs: %v / %v / %v", k, members, second[k], again[k])
			}
		}
	})
}

func membership(domains []*Domain) map[string][]string {
	out := make(map[string][]string, len(domains))
	for _, d := range domains {
		out[d.Key] = d.Members
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
