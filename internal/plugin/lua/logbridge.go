package lua

import (
	"context"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// LevelTrace is below slog.LevelDebug; plugins use it for very verbose output.
const LevelTrace = slog.LevelDebug - 4

// LogBridge forwards plugin log calls to the host's log sink. One bridge is
// shared by every domain of a load session.
//
// Inside a domain:
//
//	local log = require("log")          -- logger named after the domain
//	local log = require("log.parser")   -- logger named "parser"
//	log.info("parsed file", "path", p, "lines", n)
type LogBridge struct {
	logger *slog.Logger
}

// NewLogBridge creates a bridge writing to logger.
func NewLogBridge(logger *slog.Logger) *LogBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBridge{logger: logger}
}

var bridgeLevels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Loader returns the module loader installed in the named domain.
func (b *LogBridge) Loader(domain string) lua.LGFunction {
	return func(L *lua.LState) int {
		module := L.OptString(1, LogNamespace)
		name := strings.TrimPrefix(strings.TrimPrefix(module, LogNamespace), ".")
		if name == "" {
			name = domain
		}
		logger := b.logger.With("plugin.domain", domain, "logger", name)

		mod := L.NewTable()
		for fnName, level := range bridgeLevels {
			L.SetField(mod, fnName, L.NewFunction(logFunc(logger, level)))
		}
		L.SetField(mod, "name", lua.LString(name))
		L.Push(mod)
		return 1
	}
}

// logFunc builds log.<level>(msg, k1, v1, ...).
func logFunc(logger *slog.Logger, level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if !logger.Enabled(ctx, level) {
			return 0
		}

		msg := L.ToStringMeta(L.Get(1)).String()
		n := L.GetTop()
		args := make([]any, 0, n)
		for i := 2; i <= n; i++ {
			v := L.Get(i)
			if i%2 == 0 {
				args = append(args, L.ToStringMeta(v).String())
				continue
			}
			args = append(args, ToGo(v))
		}
		logger.Log(ctx, level, msg, args...)
		return 0
	}
}
