package lua

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds every call into a domain.
const DefaultExecutionTimeout = 5 * time.Second

// State is one isolation domain's loading context: a sandboxed Lua state
// plus the rules deciding which modules it can see.
//
// gopher-lua's LState is not goroutine-safe; every entry point takes the
// state's mutex.
type State struct {
	name string
	L    *lua.LState

	mu sync.Mutex

	content ModuleSource
	host    HostSurface
	logs    *LogBridge
	peers   []Peer

	executionTimeout time.Duration

	loaded  map[string]lua.LValue
	loading map[string]bool
	scopes  map[string]*scope

	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithContent sets the domain's own module source.
func WithContent(src ModuleSource) StateOption {
	return func(s *State) {
		s.content = src
	}
}

// WithHostSurface sets the shared host-API modules.
func WithHostSurface(h HostSurface) StateOption {
	return func(s *State) {
		s.host = h
	}
}

// WithLogBridge wires the shared logging bridge.
func WithLogBridge(b *LogBridge) StateOption {
	return func(s *State) {
		s.logs = b
	}
}

// WithExecutionTimeout bounds each Require or Call.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// NewState creates the sandboxed loading context of the named domain.
func NewState(name string, opts ...StateOption) *State {
	s := &State{
		name:             name,
		executionTimeout: DefaultExecutionTimeout,
		loaded:           make(map[string]lua.LValue),
		loading:          make(map[string]bool),
		scopes:           make(map[string]*scope),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	openSafeLibraries(s.L)

	s.sandbox = NewSandbox(s.L, s.resolve)
	s.sandbox.Install()

	return s
}

// Name returns the domain name.
func (s *State) Name() string {
	return s.name
}

// SetPeers wires the sibling domains this state may import from.
func (s *State) SetPeers(peers []Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = peers
}

// Require loads module through the domain's resolution rules and returns
// its value. Repeated calls return the cached value.
func (s *State) Require(ctx context.Context, module string) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	var result lua.LValue
	err := s.protect(ctx, func() error {
		v, err := s.resolve(s.L, module)
		result = v
		return err
	})
	return result, err
}

// Call invokes fn with args and returns every result.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	var results []lua.LValue
	err := s.protect(ctx, func() error {
		top := s.L.GetTop()
		s.L.Push(fn)
		for _, a := range args {
			s.L.Push(a)
		}
		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}
		n := s.L.GetTop() - top
		results = make([]lua.LValue, n)
		for i := 0; i < n; i++ {
			results[i] = s.L.Get(top + i + 1)
		}
		s.L.Pop(n)
		return nil
	})
	return results, err
}

// CallMethod calls obj:method(args...) and converts the results to Go
// values with ToGo.
func (s *State) CallMethod(ctx context.Context, obj *lua.LTable, method string, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	var results []any
	err := s.protect(ctx, func() error {
		fn, ok := s.L.GetField(obj, method).(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchMethod, method)
		}
		top := s.L.GetTop()
		s.L.Push(fn)
		s.L.Push(obj)
		for _, a := range args {
			s.L.Push(ToLua(s.L, a))
		}
		if err := s.L.PCall(len(args)+1, lua.MultRet, nil); err != nil {
			return err
		}
		n := s.L.GetTop() - top
		results = make([]any, n)
		for i := 0; i < n; i++ {
			results[i] = ToGo(s.L.Get(top + i + 1))
		}
		s.L.Pop(n)
		return nil
	})
	return results, err
}

// protect runs fn with the execution deadline installed and converts Go
// panics raised inside gopher-lua into errors. Caller holds s.mu.
func (s *State) protect(ctx context.Context, fn func() error) (err error) {
	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.executionTimeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// scope is the resolution view of one domain inside this state. The
// state's own scope uses the global table; a peer scope gets its own
// environment whose require resolves in the exporting domain.
type scope struct {
	name    string
	content ModuleSource
	peers   []Peer
	env     *lua.LTable
}

func (s *State) own() *scope {
	return &scope{name: s.name, content: s.content, peers: s.peers}
}

// peerScope returns the scope modules exported by p execute in.
func (s *State) peerScope(p Peer) *scope {
	if p.Name == s.name {
		return s.own()
	}
	if sc, ok := s.scopes[p.Name]; ok {
		return sc
	}
	sc := &scope{name: p.Name, content: p.Source, peers: p.Peers}

	env := s.L.NewTable()
	meta := s.L.NewTable()
	meta.RawSetString("__index", s.L.G.Global)
	s.L.SetMetatable(env, meta)
	env.RawSetString("require", s.sandbox.Require(func(L *lua.LState, name string) (lua.LValue, error) {
		return s.resolveIn(L, sc, name)
	}))
	sc.env = env

	s.scopes[p.Name] = sc
	return sc
}

// resolve implements the domain's module resolution order. It runs on the
// goroutine holding s.mu, either from Require or from require() in Lua.
func (s *State) resolve(L *lua.LState, name string) (lua.LValue, error) {
	return s.resolveIn(L, s.own(), name)
}

// resolveIn resolves name as seen from sc: reserved namespaces, then sc's
// own content, then the modules sc's peers export.
func (s *State) resolveIn(L *lua.LState, sc *scope, name string) (lua.LValue, error) {
	switch {
	case InNamespace(name, HostNamespace):
		loader, ok := s.host[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in domain %q", ErrModuleNotVisible, name, sc.name)
		}
		return s.load(L, name, name, L.NewFunction(loader))
	case InNamespace(name, LogNamespace):
		if s.logs == nil {
			return nil, fmt.Errorf("%w: %q in domain %q", ErrModuleNotVisible, name, sc.name)
		}
		return s.load(L, cacheKey(sc.name, name), name, L.NewFunction(s.logs.Loader(sc.name)))
	}

	if sc.content != nil {
		proto, ok, err := sc.content.Lookup(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.loadProto(L, sc, name, proto)
		}
	}

	for _, p := range sc.peers {
		if !p.Allows(name) {
			continue
		}
		proto, ok, err := p.Source.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("module %q exported by domain %q: %w", name, p.Name, err)
		}
		if ok {
			return s.loadProto(L, s.peerScope(p), name, proto)
		}
	}

	return nil, fmt.Errorf("%w: %q in domain %q", ErrModuleNotVisible, name, sc.name)
}

// loadProto runs a chunk owned by sc with sc's environment.
func (s *State) loadProto(L *lua.LState, sc *scope, name string, proto *lua.FunctionProto) (lua.LValue, error) {
	key := cacheKey(sc.name, name)
	if v, ok := s.loaded[key]; ok {
		return v, nil
	}
	fn := L.NewFunctionFromProto(proto)
	if sc.env != nil {
		fn.Env = sc.env
	}
	return s.load(L, key, name, fn)
}

// cacheKey identifies a module by the domain that provides it.
func cacheKey(domain, module string) string {
	return domain + "\x00" + module
}

// load returns the cached value under key or runs fn to produce it.
func (s *State) load(L *lua.LState, key, name string, fn *lua.LFunction) (lua.LValue, error) {
	if v, ok := s.loaded[key]; ok {
		return v, nil
	}
	if s.loading[key] {
		return nil, fmt.Errorf("%w %q", ErrModuleLoop, name)
	}
	return s.run(L, key, name, fn)
}

// run executes a module chunk and caches its value. A chunk returning
// nothing is cached as true, like Lua's own require.
func (s *State) run(L *lua.LState, key, name string, fn *lua.LFunction) (lua.LValue, error) {
	s.loading[key] = true
	defer delete(s.loading, key)

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(name)); err != nil {
		return nil, fmt.Errorf("loading module %q: %w", name, err)
	}
	v := L.Get(-1)
	L.Pop(1)
	if v == lua.LNil {
		v = lua.LTrue
	}
	s.loaded[key] = v
	return v, nil
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Closing twice is a no-op.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	s.loaded = nil
	s.scopes = nil
	s.peers = nil
	s.content = nil
	return nil
}
