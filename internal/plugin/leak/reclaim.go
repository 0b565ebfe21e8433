// Package leak verifies that unloaded plugin contexts become unreachable.
package leak

import (
	"runtime"
	"time"
	"weak"
)

// pollInterval is the pause between collection attempts.
const pollInterval = 10 * time.Millisecond

// pressureSize is the allocation made per attempt to push the collector.
const pressureSize = 1 << 20

// Handle observes an object without keeping it alive.
type Handle interface {
	// Reclaimed reports whether the object has been collected.
	Reclaimed() bool
}

type handle[T any] struct {
	p weak.Pointer[T]
}

func (h handle[T]) Reclaimed() bool {
	return h.p.Value() == nil
}

// Track returns a Handle for p. The caller must drop its own references to
// p for the handle to ever report it reclaimed.
func Track[T any](p *T) Handle {
	return handle[T]{p: weak.Make(p)}
}

// TryReclaim repeatedly runs the garbage collector until every handle is
// reclaimed or timeout elapses. It returns false on timeout and never
// blocks longer than roughly timeout.
func TryReclaim(timeout time.Duration, handles ...Handle) bool {
	deadline := time.Now().Add(timeout)
	for {
		runtime.GC()
		if allReclaimed(handles) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		pressure := make([]byte, pressureSize)
		runtime.KeepAlive(pressure)
		time.Sleep(pollInterval)
	}
}

func allReclaimed(handles []Handle) bool {
	for _, h := range handles {
		if !h.Reclaimed() {
			return false
		}
	}
	return true
}
