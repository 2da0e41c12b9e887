package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/podiumhq/transcript-gateway/internal/capture"
)

// wsSource adapts the client's binary WebSocket frames into a
// capture.Source. The chunked backend opens and closes it once per capture
// window; frames pushed while no window is open are buffered so speech at a
// window boundary is not lost.
type wsSource struct {
	frames chan []byte

	mu     sync.Mutex
	open   bool
	closed bool
}

func newWSSource() *wsSource {
	return &wsSource{frames: make(chan []byte, 256)}
}

// push queues one audio frame from the client. Frames are dropped rather
// than blocking the WebSocket read loop when the consumer falls behind.
// Returns false when the frame was dropped.
func (s *wsSource) push(frame []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case s.frames <- buf:
		return true
	default:
		return false
	}
}

// shutdown permanently ends the source when the WebSocket goes away; a
// blocked Read observes it as EOF through the closed channel.
func (s *wsSource) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}

func (s *wsSource) Open(_ context.Context, _ capture.Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrDeviceUnavailable
	}
	if s.open {
		return capture.ErrDeviceBusy
	}
	s.open = true
	return nil
}

func (s *wsSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
