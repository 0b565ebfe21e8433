// Package plugin loads analyzer plugins and decides which of them are
// compatible with the running host.
//
// A load session runs in five steps:
//   - Discover: every *.zip bundle in the plugin directories is read and its
//     plugin.json manifest parsed into a Descriptor.
//   - Check: a two-pass resolver assigns each descriptor either no skip
//     reason (eligible) or exactly one SkipReason.
//   - Plan: eligible plugins are grouped into isolation domains. A plugin
//     with a base plugin joins its base's domain.
//   - Build: each domain gets one sandboxed Lua state whose own content is
//     the union of its members' bundles. Peers are visible only through
//     their export masks.
//   - Instantiate: each plugin's entry point is required and constructed.
//
// Failures are isolated. A domain that cannot be built, or a plugin whose
// entry point cannot be constructed, is recorded on the LoadedModuleSet and
// everything else keeps loading.
//
// # Quick Start
//
//	hv := version.NewHostVersions(version.MustParse("10.4"))
//	m := plugin.NewManager(plugin.DefaultManagerConfig(), hv)
//
//	set, err := m.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	defer m.Unload(ctx)
//
//	for _, inst := range set.Instances() {
//	    out, err := inst.Call(ctx, "describe")
//	    ...
//	}
//
// # Bundle Structure
//
//	go-analyzer.zip
//	├── plugin.json      # Manifest (required)
//	├── main.lua         # Entry point module "main"
//	└── rules/
//	    └── init.lua     # Module "rules"
//
// # Manifest
//
//	{
//	    "key": "go",
//	    "version": "7.30.1.12345",
//	    "entryPoint": "main",
//	    "basePlugin": "core",
//	    "requirePlugins": ["license:1.2"],
//	    "minHostApiVersion": "9.14",
//	    "minRuntimeVersion": "1.22",
//	    "languages": ["go"],
//	    "embeddedResources": ["lib/rules.zip"]
//	}
//
// # Module Resolution
//
// require(name) inside a plugin resolves, in order: the safe standard
// libraries, the host's reserved modules ("host", "host.*", "log",
// "log.*"), the domain's own content, then peer domains whose export mask
// admits the name. Reserved names cannot be shadowed by plugin content.
//
// # Unloading
//
// Unload closes every Lua state and bundle and deletes extracted files.
// Handles taken from the set before unloading can be passed to
// leak.TryReclaim to confirm the states were garbage collected.
package plugin
