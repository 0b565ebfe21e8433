package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Resolver loads a module that is not a safe built-in.
type Resolver func(L *lua.LState, name string) (lua.LValue, error)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	resolve Resolver
}

// safeModules are the built-in libraries require may return.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// NewSandbox creates a sandbox for L that sends non built-in requires to resolve.
func NewSandbox(L *lua.LState, resolve Resolver) *Sandbox {
	return &Sandbox{L: L, resolve: resolve}
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	// Base library (print, type, pairs, ipairs, pcall, etc.)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Not opened: io, os, debug, package, channel, coroutine.
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	// print bypasses the logging bridge.
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		return 0
	}))

	s.L.SetGlobal("require", s.Require(s.resolve))
}

// Require returns a require function that serves safe built-ins itself and
// sends everything else to resolve.
func (s *Sandbox) Require(resolve Resolver) *lua.LFunction {
	return s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)

		if safeModules[name] {
			L.Push(L.GetGlobal(name))
			return 1
		}

		v, err := resolve(L, name)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0 // unreachable
		}
		L.Push(v)
		return 1
	})
}
