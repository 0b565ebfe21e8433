package leak

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type payload struct {
	data [64]byte
}

func TestTryReclaimUnreachable(t *testing.T) {
	h := func() Handle {
		p := &payload{}
		return Track(p)
	}()

	assert.True(t, TryReclaim(2*time.Second, h))
	assert.True(t, h.Reclaimed())
}

func TestTryReclaimSeveral(t *testing.T) {
	var handles []Handle
	func() {
		a, b := &payload{}, &payload{}
		handles = append(handles, Track(a), Track(b))
	}()

	assert.True(t, TryReclaim(2000*time.Millisecond, handles...))
}

func TestTryReclaimOneOfTwoRetained(t *testing.T) {
	kept := &payload{}
	handles := []Handle{Track(kept)}
	func() {
		handles = append(handles, Track(&payload{}))
	}()

	assert.False(t, TryReclaim(100*time.Millisecond, handles...))
	assert.True(t, handles[1].Reclaimed())
	runtime.KeepAlive(kept)
}

func TestTryReclaimStillReachable(t *testing.T) {
	p := &payload{}
	h := Track(p)

	start := time.Now()
	assert.False(t, TryReclaim(50*time.Millisecond, h))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, h.Reclaimed())

	runtime.KeepAlive(p)
}

func TestTryReclaimNoHandles(t *testing.T) {
	assert.True(t, TryReclaim(0))
}
