// Package lua provides the isolated loading contexts plugins run in.
//
// Every isolation domain gets its own gopher-lua state. Plugins never see
// each other's globals; the only ways code crosses a domain boundary are:
//   - the shared host-API surface (modules under "host"),
//   - the shared logging bridge (modules under "log"),
//   - sibling domains' exported modules, filtered by their export masks.
//
// # State
//
//	state := lua.NewState("java",
//	    lua.WithContent(content),
//	    lua.WithHostSurface(surface),
//	    lua.WithLogBridge(bridge),
//	)
//	defer state.Close()
//
//	state.SetPeers(peers)
//	entry, err := state.Require(ctx, "plugins.java.entry")
//
// # Resolution order
//
// require(name) consults, in order: the safe built-ins (string, table,
// math), the reserved host and log namespaces, the domain's own content,
// then each peer whose mask allows name. Domain content can never provide a
// module in a reserved namespace, so plugins cannot shadow host internals.
//
// # Sandbox
//
// The Sandbox removes dofile, loadfile, load and loadstring, leaves io, os,
// debug and package unopened, and clears package.path so that nothing is
// loaded from disk.
package lua
