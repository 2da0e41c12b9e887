package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ChunkFunc receives one staged audio chunk. last is true exactly once, for
// the final flush on stop; the final chunk may be empty.
type ChunkFunc func(chunk []byte, last bool)

// SessionConfig tunes one capture session.
type SessionConfig struct {
	Constraints   Constraints
	ChunkInterval time.Duration // cadence of chunk emission while active
	BufferBytes   int           // staging capacity; defaults to 1s of audio
}

// Session owns the capture device for its lifetime and periodically emits
// raw audio chunks. Exactly one session may be active per source at a time;
// Stop halts the device and is idempotent.
type Session struct {
	source  Source
	cfg     SessionConfig
	onChunk ChunkFunc
	logger  zerolog.Logger

	mu      sync.Mutex
	active  bool
	cancel  context.CancelFunc
	readerD chan struct{}
	emitD   chan struct{}
	buf     *ChunkBuffer
}

// NewSession wires a source to a chunk callback. The session does nothing
// until Start.
func NewSession(source Source, cfg SessionConfig, onChunk ChunkFunc, logger zerolog.Logger) *Session {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 250 * time.Millisecond
	}
	if cfg.BufferBytes <= 0 {
		// One second of PCM16 at the configured rate.
		cfg.BufferBytes = cfg.Constraints.SampleRate * 2
		if cfg.BufferBytes <= 0 {
			cfg.BufferBytes = 32000
		}
	}
	return &Session{
		source:  source,
		cfg:     cfg,
		onChunk: onChunk,
		logger:  logger,
		buf:     NewChunkBuffer(cfg.BufferBytes),
	}
}

// Start acquires the device and begins staging and emitting chunks. Opening
// may suspend while a permission prompt is pending; cancellation of ctx
// aborts the wait.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrDeviceBusy
	}
	s.active = true
	s.mu.Unlock()

	if err := s.source.Open(ctx, s.cfg.Constraints); err != nil {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.readerD = make(chan struct{})
	s.emitD = make(chan struct{})
	readerD, emitD := s.readerD, s.emitD
	s.mu.Unlock()

	go s.readLoop(runCtx, readerD)
	go s.emitLoop(runCtx, emitD)

	s.logger.Debug().
		Int("sample_rate", s.cfg.Constraints.SampleRate).
		Dur("chunk_interval", s.cfg.ChunkInterval).
		Msg("Capture session started")
	return nil
}

func (s *Session) readLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		frame, err := s.source.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("Capture source read failed")
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		if n := s.buf.Write(frame); n < len(frame) {
			s.logger.Warn().Int("dropped", len(frame)-n).Msg("Chunk buffer full, dropping audio")
		}
	}
}

func (s *Session) emitLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if chunk := s.buf.Drain(); len(chunk) > 0 {
				s.onChunk(chunk, false)
			}
		}
	}
}

// Stop halts both loops, flushes whatever is still staged as one final
// chunk (possibly empty), and releases the device. Calling Stop when the
// session is not active is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	readerD, emitD := s.readerD, s.emitD
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if readerD != nil {
		<-readerD
	}
	if emitD != nil {
		<-emitD
	}

	// Final flush, then release the device.
	s.onChunk(s.buf.Drain(), true)
	if err := s.source.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Capture source close failed")
	}
	s.logger.Debug().Msg("Capture session stopped")
}

// Active reports whether the session currently owns the device.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
