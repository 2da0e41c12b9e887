package capture

import "sync"

// ChunkBuffer stages raw frames between the source reader and the periodic
// chunk emitter. It is a fixed-capacity ring: when producers outrun the
// emitter the oldest staged audio is kept and the overflow is dropped, so a
// stalled provider can never grow memory without bound.
type ChunkBuffer struct {
	mu    sync.Mutex
	buf   []byte
	size  int
	read  int
	write int
	full  bool
}

// NewChunkBuffer creates a buffer holding up to size bytes of staged audio.
func NewChunkBuffer(size int) *ChunkBuffer {
	return &ChunkBuffer{buf: make([]byte, size), size: size}
}

// Write stages a frame, returning the number of bytes accepted. Bytes past
// the remaining capacity are dropped.
func (b *ChunkBuffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	space := b.spaceLocked()
	if space == 0 {
		return 0
	}
	if len(p) > space {
		p = p[:space]
	}

	// Copy in at most two segments around the wrap point.
	n := copy(b.buf[b.write:], p)
	if n < len(p) {
		copy(b.buf, p[n:])
	}
	b.write = (b.write + len(p)) % b.size
	if b.write == b.read {
		b.full = true
	}
	return len(p)
}

// Drain removes and returns everything staged so far as one contiguous
// chunk, or nil when empty. This is the emitter's per-tick package step.
func (b *ChunkBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.availableLocked()
	if n == 0 {
		return nil
	}

	out := make([]byte, n)
	m := copy(out, b.buf[b.read:])
	if m < n {
		copy(out[m:], b.buf[:n-m])
	}
	b.read = (b.read + n) % b.size
	b.full = false
	return out
}

// Len returns the number of staged bytes.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

// Reset discards all staged audio.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.read = 0
	b.write = 0
	b.full = false
}

func (b *ChunkBuffer) availableLocked() int {
	if b.full {
		return b.size
	}
	if b.write >= b.read {
		return b.write - b.read
	}
	return b.size - b.read + b.write
}

func (b *ChunkBuffer) spaceLocked() int {
	return b.size - b.availableLocked()
}
