package lua

import (
	"bytes"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Reserved namespaces.
const (
	// HostNamespace holds the host-API surface shared by every domain.
	HostNamespace = "host"

	// LogNamespace holds the logging bridge shared by every domain.
	LogNamespace = "log"
)

// InNamespace reports whether module is ns itself or lives below it.
func InNamespace(module, ns string) bool {
	return module == ns || strings.HasPrefix(module, ns+".")
}

// IsReserved reports whether module belongs to a namespace that domain
// content may not define.
func IsReserved(module string) bool {
	return InNamespace(module, HostNamespace) || InNamespace(module, LogNamespace)
}

// ModuleSource provides compiled modules. Implementations must be safe for
// concurrent use because peers share them.
type ModuleSource interface {
	// Lookup returns the compiled chunk for module. It returns false when
	// the source does not provide module.
	Lookup(module string) (*lua.FunctionProto, bool, error)
}

// Peer is another domain as seen through its export mask.
//
// Peers lists the domains visible to the peer itself. Modules the peer
// exports resolve their own requires against Source and Peers, never
// against the importing domain.
type Peer struct {
	Name   string
	Allows func(module string) bool
	Source ModuleSource
	Peers  []Peer
}

// HostSurface maps host-API module names to their loaders. A loader pushes
// the module value and returns 1.
type HostSurface map[string]lua.LGFunction

// Compile parses and compiles Lua source. The resulting proto is immutable
// and can be instantiated in any number of states.
func Compile(src []byte, chunkName string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), chunkName)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", chunkName, err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", chunkName, err)
	}
	return proto, nil
}
