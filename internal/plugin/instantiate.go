package plugin

import (
	"context"
	"fmt"

	slogcontext "github.com/veqryn/slog-context"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
)

// Instance is a constructed plugin entry point living in its domain's
// loading context.
type Instance struct {
	Key        string
	Domain     string
	EntryPoint string

	state *plua.State
	value *lua.LTable
}

// Call invokes a method of the instance, passing the instance as self.
func (i *Instance) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	return i.state.CallMethod(ctx, i.value, method, args...)
}

// Value returns the Lua table backing the instance.
func (i *Instance) Value() *lua.LTable {
	return i.value
}

// Instantiate constructs the entry point of every member of every built
// domain and records the instances in set. An entry point module may return
// the instance table itself or a constructor, which is called with the
// plugin key and must return a table. A failing plugin is logged and
// excluded without affecting any other plugin.
func Instantiate(ctx context.Context, set *LoadedModuleSet) map[string]*Instance {
	out := make(map[string]*Instance)
	for _, dom := range set.Domains() {
		set.mu.RLock()
		st, own := set.contexts[dom.Key], set.contents[dom.Key]
		set.mu.RUnlock()
		if st == nil {
			continue
		}
		for _, key := range dom.Members {
			entry := dom.EntryPoints[key]
			inst, err := instantiate(ctx, st, own, key, entry)
			if err != nil {
				err = &InstantiationError{Plugin: key, EntryPoint: entry, Err: err}
				slogcontext.Error(ctx, "plugin excluded", "plugin", key, "domain", dom.Key, "error", err)
				set.mu.Lock()
				set.failedPlugins[key] = err
				set.mu.Unlock()
				continue
			}
			inst.Domain = dom.Key
			set.mu.Lock()
			set.instances[key] = inst
			set.mu.Unlock()
			out[key] = inst
		}
	}
	return out
}

func instantiate(ctx context.Context, st *plua.State, own *content, key, entry string) (*Instance, error) {
	if _, ok, err := own.Lookup(entry); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryPointNotFound, entry)
	}

	v, err := st.Require(ctx, entry)
	if err != nil {
		return nil, err
	}

	switch value := v.(type) {
	case *lua.LTable:
		return &Instance{Key: key, EntryPoint: entry, state: st, value: value}, nil
	case *lua.LFunction:
		results, err := st.Call(ctx, value, lua.LString(key))
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			if tbl, ok := results[0].(*lua.LTable); ok {
				return &Instance{Key: key, EntryPoint: entry, state: st, value: tbl}, nil
			}
		}
		return nil, ErrBadEntryPoint
	default:
		return nil, fmt.Errorf("%w: got %s", ErrBadEntryPoint, v.Type())
	}
}
