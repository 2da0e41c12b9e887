package backend

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// collector records everything a backend hands to its handlers.
type collector struct {
	mu        sync.Mutex
	fragments []transcript.Fragment
	errs      []error
	states    []supervisor.State
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnFragment: func(f transcript.Fragment) {
			c.mu.Lock()
			c.fragments = append(c.fragments, f)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
		OnState: func(s supervisor.State) {
			c.mu.Lock()
			c.states = append(c.states, s)
			c.mu.Unlock()
		},
	}
}

func (c *collector) fragmentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fragments)
}

func (c *collector) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *collector) fragmentAt(i int) transcript.Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments[i]
}

func (c *collector) errAt(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs[i]
}

func (c *collector) sawState(want supervisor.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.states {
		if s == want {
			return true
		}
	}
	return false
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// loudFrame builds n samples of PCM16 well above any silence threshold.
func loudFrame(n int) []byte {
	frame := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(12000)))
	}
	return frame
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
