package plugin

import (
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
)

// Host-API module names.
const (
	hostModule         = plua.HostNamespace
	hostVersionsModule = plua.HostNamespace + ".versions"
)

// NewHostSurface builds the host-API modules every domain can require. The
// values are snapshots of env taken when a domain first requires them.
//
//	local host = require("host")
//	if host.isLanguageEnabled("go") then ... end
func NewHostSurface(env Environment) plua.HostSurface {
	return plua.HostSurface{
		hostModule:         hostLoader(env),
		hostVersionsModule: versionsLoader(env),
	}
}

func hostLoader(env Environment) lua.LGFunction {
	return func(L *lua.LState) int {
		mod := L.NewTable()
		mod.RawSetString("apiVersion", lua.LString(env.HostAPIVersion.String()))

		langs := L.NewTable()
		for _, lang := range env.EnabledLanguages.Sorted() {
			langs.Append(lua.LString(lang))
		}
		mod.RawSetString("languages", langs)

		L.SetField(mod, "isLanguageEnabled", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(env.EnabledLanguages.Contains(Language(L.CheckString(1)))))
			return 1
		}))
		L.Push(mod)
		return 1
	}
}

func versionsLoader(env Environment) lua.LGFunction {
	return func(L *lua.LState) int {
		mod := L.NewTable()
		mod.RawSetString("hostApi", lua.LString(env.HostAPIVersion.String()))
		mod.RawSetString("runtime", lua.LString(env.RuntimeVersion.String()))
		if env.AuxRuntimeVersion != nil {
			mod.RawSetString("auxRuntime", lua.LString(env.AuxRuntimeVersion.String()))
		}
		L.Push(mod)
		return 1
	}
}
