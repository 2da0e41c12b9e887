package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/capture"
	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// StreamConnection is a live streaming transcription session. Satisfied by
// provider.StreamConn. Events must close when the connection ends.
type StreamConnection interface {
	SendAudio(chunk []byte) error
	Events() <-chan provider.StreamEvent
	Close() error
}

// StreamDialer opens a streaming connection for a session id. Reconnects
// reuse the same id so the relay can stitch the session back together.
type StreamDialer func(ctx context.Context, sessionID string) (StreamConnection, error)

// StreamingConfig tunes the low-latency streaming backend.
type StreamingConfig struct {
	SampleRate int
	// SendCadence is how often buffered audio is packaged and sent. The
	// capture session stages chunks at half this cadence so every send
	// has fresh audio.
	SendCadence time.Duration
	// Retry bounds reconnection attempts after stream failures.
	Retry supervisor.RetryPolicy
}

// StreamingBackend captures continuously and ships buffered audio over a
// persistent stream on a fixed cadence. Capture keeps running across
// reconnects, so audio staged during an outage is sent once the stream is
// back. Send failures are logged and swallowed; the stream's own error
// events drive reconnection.
type StreamingBackend struct {
	source   capture.Source
	dial     StreamDialer
	cfg      StreamingConfig
	handlers Handlers
	logger   zerolog.Logger
	sup      *supervisor.Supervisor

	pending *capture.ChunkBuffer

	mu        sync.Mutex
	carry     []byte // audio drained while the stream was down, parked by sendLoop on exit
	running   bool
	stopping  bool
	sessionID string
	conn      StreamConnection
	capSess   *capture.Session
	ctx       context.Context
	cancel    context.CancelFunc
	senderD   chan struct{}
}

// NewStreamingBackend builds a streaming backend over a capture source and
// a stream dialer.
func NewStreamingBackend(source capture.Source, dial StreamDialer, cfg StreamingConfig, handlers Handlers, logger zerolog.Logger) *StreamingBackend {
	if cfg.SendCadence <= 0 {
		cfg.SendCadence = time.Second
	}
	b := &StreamingBackend{
		source:   source,
		dial:     dial,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With().Str("backend", string(KindStreaming)).Logger(),
		// Hold up to ten seconds of PCM16 across reconnect gaps.
		pending: capture.NewChunkBuffer(cfg.SampleRate * 2 * 10),
	}
	b.sup = supervisor.New(string(KindStreaming), cfg.Retry, b.logger)
	b.sup.OnRestart(b.reconnect)
	b.sup.OnTerminal(b.terminal)
	if handlers.OnState != nil {
		b.sup.OnStateChange(handlers.OnState)
	}
	return b
}

func (b *StreamingBackend) Kind() Kind { return KindStreaming }

func (b *StreamingBackend) IsSupported() bool {
	return b.source != nil && b.dial != nil
}

// SessionID returns the id minted for the current run; empty before Start.
func (b *StreamingBackend) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// Start acquires the device, opens the stream, and begins the send cadence.
// A dial failure here is retried under supervision rather than failing the
// start, since capture is already healthy and buffering.
func (b *StreamingBackend) Start(ctx context.Context) error {
	if !b.IsSupported() {
		return ErrNotSupported
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.stopping = false
	b.sessionID = uuid.New().String()
	b.ctx, b.cancel = context.WithCancel(ctx)
	runCtx := b.ctx
	b.mu.Unlock()

	b.sup.Connecting()

	capSess := capture.NewSession(b.source, capture.SessionConfig{
		Constraints:   capture.DefaultConstraints(b.cfg.SampleRate),
		ChunkInterval: b.cfg.SendCadence / 2,
	}, b.stage, b.logger)
	if err := capSess.Start(runCtx); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.sup.Stop()
		return err
	}

	senderD := make(chan struct{})
	b.mu.Lock()
	b.capSess = capSess
	b.senderD = senderD
	b.mu.Unlock()

	go b.sendLoop(runCtx, senderD)

	if err := b.open(); err != nil {
		b.sup.Fail(err)
	}
	return nil
}

// Stop cancels the send cadence, stops capture, flushes whatever audio is
// still buffered with one last send, and closes the stream. Idempotent.
func (b *StreamingBackend) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopping = true
	cancel := b.cancel
	capSess := b.capSess
	senderD := b.senderD
	b.capSess = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if senderD != nil {
		<-senderD
	}
	if capSess != nil {
		capSess.Stop() // flushes the final chunk into pending via stage
	}

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	carry := b.carry
	b.carry = nil
	b.mu.Unlock()

	// carry predates everything still in the ring, so it goes first.
	if final := append(carry, b.pending.Drain()...); len(final) > 0 && conn != nil {
		if err := conn.SendAudio(final); err != nil {
			b.logger.Debug().Err(err).Msg("final flush send failed")
		}
	}
	if conn != nil {
		_ = conn.Close()
	}
	b.sup.Stop()
}

// stage receives capture chunks; they accumulate until the next send tick.
func (b *StreamingBackend) stage(chunk []byte, _ bool) {
	if len(chunk) == 0 {
		return
	}
	if n := b.pending.Write(chunk); n < len(chunk) {
		b.logger.Warn().Int("dropped", len(chunk)-n).Msg("stream buffer full, dropping audio")
	}
}

// open dials the stream and starts consuming its events.
func (b *StreamingBackend) open() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	ctx := b.ctx
	sessionID := b.sessionID
	b.mu.Unlock()

	conn, err := b.dial(ctx, sessionID)
	if err != nil {
		return supervisor.Wrap(supervisor.KindNetwork, "dial transcription stream", err)
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	b.conn = conn
	b.mu.Unlock()

	go b.consume(conn)
	return nil
}

// reconnect is the supervisor's restart hook.
func (b *StreamingBackend) reconnect(attempt int) {
	b.logger.Info().Int("attempt", attempt).Msg("reconnecting transcription stream")
	if err := b.open(); err != nil {
		b.sup.Fail(err)
	}
}

func (b *StreamingBackend) terminal(err error) {
	b.mu.Lock()
	b.running = false
	capSess := b.capSess
	b.capSess = nil
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if capSess != nil {
		capSess.Stop()
	}
	b.handlers.error(err)
}

// sendLoop packages staged audio on the send cadence. Send failures are
// logged and swallowed; the read side notices a dead stream and the
// supervisor handles reconnection.
//
// Audio drained while the stream is down stays in a loop-local carry
// rather than going back into the ring: the capture goroutine keeps
// staging newer chunks there, so a tail re-queue would ship PCM out of
// order after reconnect. The carry is parked on the backend when the
// loop exits so Stop can include it in the final flush.
func (b *StreamingBackend) sendLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.SendCadence)
	defer ticker.Stop()

	var carry []byte
	maxCarry := b.cfg.SampleRate * 2 * 10
	defer func() {
		b.mu.Lock()
		b.carry = carry
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			carry = append(carry, b.pending.Drain()...)
			if len(carry) == 0 {
				continue
			}
			if over := len(carry) - maxCarry; over > 0 {
				b.logger.Warn().Int("dropped", over).Msg("stream outage backlog full, dropping oldest audio")
				carry = carry[over:]
			}
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()
			if conn == nil {
				continue
			}
			blob := carry
			carry = nil
			if err := conn.SendAudio(blob); err != nil {
				b.logger.Warn().Err(err).Int("bytes", len(blob)).Msg("stream send failed")
			}
		}
	}
}

// consume drains one stream connection until it errors or closes.
func (b *StreamingBackend) consume(conn StreamConnection) {
	for ev := range conn.Events() {
		switch ev.Type {
		case provider.StreamConnected:
			b.sup.Connected()
		case provider.StreamTranscript:
			b.emit(ev)
		case provider.StreamError:
			b.detach(conn)
			_ = conn.Close()
			observability.RecordError(string(supervisor.KindServiceUnavailable), string(KindStreaming))
			b.sup.Fail(supervisor.E(supervisor.KindServiceUnavailable, ev.Error))
			return
		case provider.StreamUtteranceEnd, provider.StreamSpeechStarted, provider.StreamHeartbeat:
			b.logger.Debug().Str("event", ev.Type).Msg("stream marker")
		}
	}

	// Closed without an error event: transport died or server went away.
	b.detach(conn)
	b.mu.Lock()
	stopping := b.stopping
	b.mu.Unlock()
	if !stopping {
		b.sup.Fail(supervisor.E(supervisor.KindNetwork, "transcription stream closed unexpectedly"))
	}
}

// emit turns one transcript event into fragments. Streaming chunks are
// short, so every fragment is final; diarized segments keep provider order.
func (b *StreamingBackend) emit(ev provider.StreamEvent) {
	b.sup.ResultOK()
	if len(ev.Speakers) > 0 {
		for _, seg := range ev.Speakers {
			observability.RecordFragment(string(KindStreaming), true)
			b.handlers.fragment(transcript.NewFragment(seg.Text, true, seg.Confidence, seg.SpeakerTag))
		}
		return
	}
	if ev.Transcript == "" {
		return
	}
	observability.RecordFragment(string(KindStreaming), true)
	b.handlers.fragment(transcript.NewFragment(ev.Transcript, true, ev.Confidence, 0))
}

func (b *StreamingBackend) detach(conn StreamConnection) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
}
