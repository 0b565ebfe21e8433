package plugin

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"

	slogcontext "github.com/veqryn/slog-context"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/analyzerhost/internal/plugin/bundle"
	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
)

// luaBytecodeSignature starts precompiled chunks, which the host cannot run.
var luaBytecodeSignature = []byte("\x1bLua")

// content is a domain's private module source: its member bundles, then
// their extracted embedded archives, in insertion order. Compiled chunks are
// cached so that importing domains share code without sharing state.
type content struct {
	domain   string
	archives []*bundle.Archive

	mu     sync.Mutex
	protos map[string]*lua.FunctionProto
}

func newContent(domain string) *content {
	return &content{
		domain: domain,
		protos: make(map[string]*lua.FunctionProto),
	}
}

// add appends an archive, logging entries that fall in reserved namespaces
// since they will never be resolved.
func (c *content) add(ctx context.Context, a *bundle.Archive) {
	for _, name := range a.Names() {
		if module, ok := bundle.ModuleName(name); ok && plua.IsReserved(module) {
			slogcontext.Warn(ctx, "ignoring module in reserved namespace",
				"domain", c.domain, "bundle", a.Path(), "module", module)
		}
	}
	c.archives = append(c.archives, a)
}

// Lookup implements plua.ModuleSource.
func (c *content) Lookup(module string) (*lua.FunctionProto, bool, error) {
	if plua.IsReserved(module) {
		return nil, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if proto, ok := c.protos[module]; ok {
		return proto, true, nil
	}
	for _, a := range c.archives {
		for _, entry := range bundle.ModulePaths(module) {
			if !a.Has(entry) {
				continue
			}
			src, err := a.ReadFile(entry)
			if err != nil {
				return nil, false, err
			}
			if bytes.HasPrefix(src, luaBytecodeSignature) {
				return nil, false, fmt.Errorf("%w: %s in %s", ErrIncompatibleFormat, entry, a.Path())
			}
			proto, err := plua.Compile(src, filepath.Base(a.Path())+":"+entry)
			if err != nil {
				return nil, false, err
			}
			c.protos[module] = proto
			return proto, true, nil
		}
	}
	return nil, false, nil
}
