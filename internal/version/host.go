package version

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"
)

// Provider looks up the version of something installed on the host.
type Provider interface {
	Version(ctx context.Context) (Version, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Version, error)

// Version implements Provider.
func (f ProviderFunc) Version(ctx context.Context) (Version, error) {
	return f(ctx)
}

// Static returns a Provider that always reports v.
func Static(v Version) Provider {
	return ProviderFunc(func(context.Context) (Version, error) { return v, nil })
}

// GoRuntime reports the version of the Go runtime hosting the plugins.
func GoRuntime() Provider {
	return ProviderFunc(func(context.Context) (Version, error) {
		return parseGoVersion(runtime.Version())
	})
}

func parseGoVersion(s string) (Version, error) {
	s = strings.TrimPrefix(s, "devel ")
	s = strings.TrimPrefix(s, "go")
	// Pre-release suffixes such as rc1 or beta1 are dropped.
	if i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	}); i >= 0 {
		s = s[:i]
	}
	return Parse(strings.TrimSuffix(s, "."))
}

// DefaultNodeTimeout bounds the "node --version" lookup.
const DefaultNodeTimeout = 5 * time.Second

// NodeJS reports the version of a Node.js executable used as the auxiliary
// runtime. An empty command defaults to "node" on PATH.
func NodeJS(command string) Provider {
	if command == "" {
		command = "node"
	}
	return ProviderFunc(func(ctx context.Context) (Version, error) {
		ctx, cancel := context.WithTimeout(ctx, DefaultNodeTimeout)
		defer cancel()

		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, command, "--version")
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return Version{}, fmt.Errorf("running %s --version: %w", command, err)
		}
		return Parse(strings.TrimPrefix(strings.TrimSpace(out.String()), "v"))
	})
}

// HostVersions is a lazily initialized cache of the host-API, runtime and
// auxiliary-runtime versions. Every lookup runs at most once per instance;
// independent instances share nothing, so several loaders can coexist.
type HostVersions struct {
	api Version

	runtime     Provider
	runtimeOnce sync.Once
	runtimeVer  Version
	runtimeErr  error

	aux     Provider
	auxOnce sync.Once
	auxVer  *Version
}

// HostOption configures HostVersions.
type HostOption func(*HostVersions)

// WithRuntime sets the runtime version provider (default: GoRuntime).
func WithRuntime(p Provider) HostOption {
	return func(h *HostVersions) {
		h.runtime = p
	}
}

// WithAuxRuntime sets the auxiliary-runtime provider. Without one, no
// auxiliary runtime is considered installed.
func WithAuxRuntime(p Provider) HostOption {
	return func(h *HostVersions) {
		h.aux = p
	}
}

// NewHostVersions creates a cache for the given host-API version.
func NewHostVersions(api Version, opts ...HostOption) *HostVersions {
	h := &HostVersions{
		api:     api,
		runtime: GoRuntime(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HostAPI returns the implemented host-API version.
func (h *HostVersions) HostAPI() Version {
	return h.api
}

// Runtime returns the current runtime version. The lookup ignores ctx
// cancellation because its result is cached.
func (h *HostVersions) Runtime(ctx context.Context) (Version, error) {
	h.runtimeOnce.Do(func() {
		h.runtimeVer, h.runtimeErr = h.runtime.Version(context.WithoutCancel(ctx))
	})
	return h.runtimeVer, h.runtimeErr
}

// AuxRuntime returns the installed auxiliary-runtime version, or nil when none
// is available. Lookup failures are logged once and reported as "not installed".
// A cancelled ctx does not fail the lookup, since its outcome is cached.
func (h *HostVersions) AuxRuntime(ctx context.Context) *Version {
	h.auxOnce.Do(func() {
		if h.aux == nil {
			return
		}
		v, err := h.aux.Version(context.WithoutCancel(ctx))
		if err != nil {
			slogcontext.Debug(ctx, "auxiliary runtime not available", "error", err)
			return
		}
		h.auxVer = &v
	})
	return h.auxVer
}
