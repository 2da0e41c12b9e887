package backend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// EngineResult is one recognition alternative reported by the engine.
type EngineResult struct {
	Text       string
	Final      bool
	Confidence float64
}

// EngineError carries the engine's error code, e.g. "no-speech" or
// "not-allowed". Codes are mapped onto the supervisor error taxonomy.
type EngineError struct {
	Code    string
	Message string
}

// EngineEvent is a single event from a recognition engine session:
// results, an error, or the natural end of the session. A session that
// ends sets Ended on its last event (or on a dedicated final event).
type EngineEvent struct {
	Results []EngineResult
	Err     *EngineError
	Ended   bool
}

// EngineConfig configures a recognition engine session.
type EngineConfig struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// RecognitionEngine starts recognition sessions. The gateway provides an
// implementation backed by the connected client's recognition events;
// tests provide scripted fakes.
type RecognitionEngine interface {
	Supported() bool
	Start(ctx context.Context, cfg EngineConfig) (EngineSession, error)
}

// EngineSession is one live recognition session. Events is closed when
// the session ends for any reason.
type EngineSession interface {
	Events() <-chan EngineEvent
	Stop() error
}

// NativeConfig tunes the native backend.
type NativeConfig struct {
	Continuous     bool
	InterimResults bool
	Language       string
	// Retry bounds the restart budget for retryable engine errors.
	Retry supervisor.RetryPolicy
	// RestartDelay paces the restart after a natural engine end in
	// continuous mode. Natural ends still consume the retry budget so a
	// flapping engine cannot restart forever.
	RestartDelay time.Duration
}

// NativeBackend drives an engine-provided recognition session and
// restarts it under supervision when it fails or ends prematurely.
type NativeBackend struct {
	engine   RecognitionEngine
	cfg      NativeConfig
	handlers Handlers
	logger   zerolog.Logger
	sup      *supervisor.Supervisor

	mu       sync.Mutex
	running  bool
	stopping bool
	session  EngineSession
	cancel   context.CancelFunc
	ctx      context.Context
}

// NewNativeBackend builds a native backend. The supervisor is created
// here so that each backend instance owns its own retry budget.
func NewNativeBackend(engine RecognitionEngine, cfg NativeConfig, handlers Handlers, logger zerolog.Logger) *NativeBackend {
	b := &NativeBackend{
		engine:   engine,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With().Str("backend", string(KindNative)).Logger(),
	}
	b.sup = supervisor.New(string(KindNative), cfg.Retry, b.logger)
	b.sup.OnRestart(b.restart)
	b.sup.OnTerminal(b.terminal)
	if handlers.OnState != nil {
		b.sup.OnStateChange(handlers.OnState)
	}
	return b
}

func (b *NativeBackend) Kind() Kind { return KindNative }

func (b *NativeBackend) IsSupported() bool {
	return b.engine != nil && b.engine.Supported()
}

// Start opens the first engine session. Later failures and restarts are
// reported through the handlers.
func (b *NativeBackend) Start(ctx context.Context) error {
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
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.sup.Connecting()
	if err := b.openSession(); err != nil {
		b.sup.Fail(err)
	}
	return nil
}

// Stop tears down the live session and cancels any pending restart.
func (b *NativeBackend) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopping = true
	session := b.session
	b.session = nil
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		if err := session.Stop(); err != nil {
			b.logger.Debug().Err(err).Msg("engine session stop")
		}
	}
	b.sup.Stop()
}

// openSession starts one engine session and begins consuming its events.
func (b *NativeBackend) openSession() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	ctx := b.ctx
	b.mu.Unlock()

	session, err := b.engine.Start(ctx, EngineConfig{
		Continuous:     b.cfg.Continuous,
		InterimResults: b.cfg.InterimResults,
		Language:       b.cfg.Language,
	})
	if err != nil {
		return supervisor.Wrap(supervisor.KindAudioCapture, "start recognition engine", err)
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		_ = session.Stop()
		return nil
	}
	b.session = session
	b.mu.Unlock()

	b.sup.Connected()
	go b.consume(session)
	return nil
}

// restart is invoked by the supervisor after a retry delay elapses.
func (b *NativeBackend) restart(attempt int) {
	b.logger.Info().Int("attempt", attempt).Msg("restarting recognition engine")
	if err := b.openSession(); err != nil {
		b.sup.Fail(err)
	}
}

func (b *NativeBackend) terminal(err error) {
	b.mu.Lock()
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.handlers.error(err)
}

// consume drains one engine session until it errors or ends.
func (b *NativeBackend) consume(session EngineSession) {
	for ev := range session.Events() {
		for _, r := range ev.Results {
			b.sup.ResultOK()
			observability.RecordFragment(string(KindNative), r.Final)
			b.handlers.fragment(transcript.NewFragment(r.Text, r.Final, r.Confidence, 0))
		}

		if ev.Err != nil {
			if b.handleEngineError(session, ev.Err) {
				return
			}
			continue
		}

		if ev.Ended {
			b.handleEnded(session)
			return
		}
	}
	// Channel closed without an Ended event: the engine died underneath
	// us. Treat it like a natural end.
	b.handleEnded(session)
}

// handleEngineError maps an engine error code onto the taxonomy and
// reports it to the supervisor. Returns true when the session is done.
func (b *NativeBackend) handleEngineError(session EngineSession, ee *EngineError) bool {
	kind := engineErrorKind(ee.Code)
	err := supervisor.E(kind, ee.Message)

	if supervisor.IsBenign(err) {
		// A pause in speech is not a failure; the engine keeps running
		// or ends naturally right after, which handleEnded covers.
		b.logger.Debug().Str("code", ee.Code).Msg("benign engine event")
		return false
	}

	b.detach(session)
	_ = session.Stop()
	observability.RecordError(string(kind), string(KindNative))
	b.sup.Fail(err)
	return true
}

// handleEnded processes the natural end of an engine session: restart
// after a fixed pacing delay in continuous mode, otherwise a clean stop.
func (b *NativeBackend) handleEnded(session EngineSession) {
	b.mu.Lock()
	stopping := b.stopping
	b.mu.Unlock()
	b.detach(session)

	if stopping {
		return
	}
	if b.cfg.Continuous {
		b.sup.FailWithDelay(supervisor.E(supervisor.KindEngineEnded, "recognition engine ended"), b.cfg.RestartDelay)
		return
	}
	b.mu.Lock()
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.sup.Disconnected()
}

// detach clears the stored session if it is still the current one.
func (b *NativeBackend) detach(session EngineSession) {
	b.mu.Lock()
	if b.session == session {
		b.session = nil
	}
	b.mu.Unlock()
}

func engineErrorKind(code string) supervisor.Kind {
	switch code {
	case "no-speech":
		return supervisor.KindNoSpeech
	case "not-allowed":
		return supervisor.KindPermissionDenied
	case "audio-capture":
		return supervisor.KindAudioCapture
	case "network":
		return supervisor.KindNetwork
	case "service-not-allowed":
		return supervisor.KindServiceNotAllowed
	case "aborted":
		return supervisor.KindEngineEnded
	default:
		return supervisor.KindUnknown
	}
}
