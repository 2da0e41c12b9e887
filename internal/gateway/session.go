package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/backend"
	"github.com/podiumhq/transcript-gateway/internal/config"
	"github.com/podiumhq/transcript-gateway/internal/events"
	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the allowed app origins
		// For now, allow all origins (development only)
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const collaboratorTimeout = 30 * time.Second

// Deps bundles everything a session needs beyond the connection itself.
// Handler builds it once from configuration; tests inject fakes.
type Deps struct {
	Cfg        *config.Config
	Uploader   backend.Uploader      // nil disables the chunked backend
	StreamDial backend.StreamDialer  // nil disables the streaming backend
	Analysis   *provider.AnalysisClient
	Tokenizer  *provider.TokenizerService
	Events     *events.Publisher
}

// Session is one client connection: a capture pipeline, its transcript,
// and the collaborator proxies. The transcript persists across start/stop
// cycles within the connection.
type Session struct {
	conn   *websocket.Conn
	deps   Deps
	id     string
	logger zerolog.Logger

	source    *wsSource
	engine    *relayEngine
	speakers  *transcript.SpeakerRegistry
	assembler *transcript.Assembler
	metrics   *observability.SessionMetrics

	writeMu sync.Mutex

	mu      sync.Mutex
	active  backend.Backend
	started time.Time
}

// NewSession wires a session around an upgraded connection.
func NewSession(conn *websocket.Conn, deps Deps) *Session {
	id := observability.NewSessionID()
	speakers := transcript.NewSpeakerRegistry()
	return &Session{
		conn:      conn,
		deps:      deps,
		id:        id,
		logger:    observability.WithSession(id),
		source:    newWSSource(),
		engine:    newRelayEngine(),
		speakers:  speakers,
		assembler: transcript.NewAssembler(speakers),
		metrics:   observability.NewSessionMetrics(id),
	}
}

// Handler upgrades capture connections and runs a session per connection.
func Handler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger := observability.GetLogger()
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		session := NewSession(conn, deps)
		session.Run()
	}
}

// Run drives the session until the connection drops.
func (s *Session) Run() {
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session connected")
	s.send(serverMessage{Type: msgSession, SessionID: s.id})

	defer s.teardown()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.metrics.RecordAudioBytes("in", int64(len(data)))
			if !s.source.push(data) {
				s.logger.Warn().Int("bytes", len(data)).Msg("Audio frame dropped, capture not keeping up")
			}
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *Session) teardown() {
	s.stopBackend(false)
	s.source.shutdown()

	entries := s.assembler.Len()
	duration := time.Duration(0)
	s.mu.Lock()
	if !s.started.IsZero() {
		duration = time.Since(s.started)
	}
	s.mu.Unlock()

	if s.deps.Events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.deps.Events.SessionEnded(ctx, s.id, entries, duration)
		cancel()
	}
	s.metrics.RecordSessionEnd()
	s.logger.Info().Int("entries", entries).Msg("Session closed")
}

func (s *Session) handleControl(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Error().Err(err).Msg("Malformed control message")
		s.sendError(supervisor.KindParse, "malformed control message")
		return
	}

	switch msg.Type {
	case msgStart:
		s.handleStart(msg)
	case msgStop:
		s.handleStop()
	case msgAnalyze:
		go s.handleAnalyze(msg)
	case msgTokenize:
		go s.handleTokenize(msg)
	case msgRecognition:
		s.handleRecognition(msg)
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown control message")
	}
}

func (s *Session) handleStart(msg clientMessage) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		s.sendError(supervisor.KindAudioCapture, "capture already running")
		return
	}
	s.mu.Unlock()

	b, err := s.buildBackend(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("backend", msg.Backend).Msg("Backend selection failed")
		s.sendError(supervisor.KindOf(err), err.Error())
		return
	}

	if err := b.Start(context.Background()); err != nil {
		s.logger.Error().Err(err).Str("backend", string(b.Kind())).Msg("Backend start failed")
		s.sendError(supervisor.KindOf(err), err.Error())
		return
	}

	s.mu.Lock()
	s.active = b
	s.started = time.Now()
	s.mu.Unlock()

	s.logger.Info().
		Str("backend", string(b.Kind())).
		Bool("continuous", msg.Continuous).
		Msg("Capture started")
	if s.deps.Events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.deps.Events.SessionStarted(ctx, s.id, string(b.Kind()))
		cancel()
	}
}

func (s *Session) handleStop() {
	if !s.stopBackend(true) {
		s.sendError(supervisor.KindAudioCapture, "no capture running")
	}
}

// stopBackend stops the active backend if any; reports whether one ran.
func (s *Session) stopBackend(announce bool) bool {
	s.mu.Lock()
	b := s.active
	s.active = nil
	s.mu.Unlock()
	if b == nil {
		return false
	}

	b.Stop()
	s.assembler.ClearInterim()
	if announce {
		s.send(serverMessage{Type: msgStopped, Entries: s.assembler.Len()})
	}
	s.logger.Info().Str("backend", string(b.Kind())).Msg("Capture stopped")
	return true
}

// buildBackend constructs the requested strategy from configuration.
func (s *Session) buildBackend(msg clientMessage) (backend.Backend, error) {
	cfg := s.deps.Cfg
	handlers := backend.Handlers{
		OnFragment: s.onFragment,
		OnError:    s.onError,
		OnState:    s.onState,
	}
	maxBackoff := time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond

	kind := backend.Kind(msg.Backend)
	if msg.Backend == "" {
		kind = backend.KindChunked
	}

	switch kind {
	case backend.KindNative:
		return backend.NewNativeBackend(s.engine, backend.NativeConfig{
			Continuous:     msg.Continuous,
			InterimResults: msg.Interim,
			Language:       msg.Language,
			Retry: supervisor.RetryPolicy{
				MaxAttempts: cfg.NativeMaxRetries,
				BaseDelay:   time.Duration(cfg.NativeRetryBaseMs) * time.Millisecond,
				Multiplier:  2.0,
				MaxDelay:    maxBackoff,
			},
			RestartDelay: time.Duration(cfg.NativeRestartMs) * time.Millisecond,
		}, handlers, s.logger), nil

	case backend.KindChunked:
		if s.deps.Uploader == nil {
			return nil, supervisor.E(supervisor.KindServiceUnavailable, "batch provider not configured")
		}
		return backend.NewChunkedBackend(s.source, s.deps.Uploader, backend.ChunkedConfig{
			Continuous:        msg.Continuous,
			SessionID:         s.id,
			RecordingDuration: time.Duration(cfg.RecordingDurationMs) * time.Millisecond,
			ChunkInterval:     time.Duration(cfg.ChunkIntervalMs) * time.Millisecond,
			SampleRate:        cfg.SampleRate,
			SilenceRMS:        cfg.SilenceRMSThreshold,
			UploadRetry: supervisor.RetryPolicy{
				MaxAttempts: cfg.UploadMaxAttempts,
				BaseDelay:   time.Duration(cfg.UploadRetryBaseMs) * time.Millisecond,
				Multiplier:  2.0,
				MaxDelay:    maxBackoff,
			},
		}, handlers, s.logger), nil

	case backend.KindStreaming:
		if s.deps.StreamDial == nil {
			return nil, supervisor.E(supervisor.KindServiceUnavailable, "streaming provider not configured")
		}
		return backend.NewStreamingBackend(s.source, s.deps.StreamDial, backend.StreamingConfig{
			SampleRate:  cfg.SampleRate,
			SendCadence: time.Duration(cfg.SendCadenceMs) * time.Millisecond,
			Retry: supervisor.RetryPolicy{
				MaxAttempts: cfg.StreamMaxRetries,
				BaseDelay:   time.Duration(cfg.StreamRetryBaseMs) * time.Millisecond,
				Multiplier:  2.0,
				MaxDelay:    maxBackoff,
			},
		}, handlers, s.logger), nil

	default:
		return nil, supervisor.E(supervisor.KindUnknown, "unknown backend: "+msg.Backend)
	}
}

// handleRecognition forwards relayed engine events to the native backend.
func (s *Session) handleRecognition(msg clientMessage) {
	ev := backend.EngineEvent{Ended: msg.Ended}
	for _, r := range msg.Results {
		ev.Results = append(ev.Results, backend.EngineResult{
			Text:       r.Text,
			Final:      r.Final,
			Confidence: r.Confidence,
		})
	}
	if msg.Error != nil {
		ev.Err = &backend.EngineError{Code: msg.Error.Code, Message: msg.Error.Message}
	}
	s.engine.deliver(ev)
}

func (s *Session) handleAnalyze(msg clientMessage) {
	if s.deps.Analysis == nil || !s.deps.Analysis.Available() {
		s.sendError(supervisor.KindServiceUnavailable, "analysis service not configured")
		return
	}

	contextText := msg.Context
	if contextText == "" {
		contextText = s.assembler.FullText()
	}
	req := provider.AnalysisRequest{
		Kind:          provider.AnalysisKind(msg.Kind),
		Statement:     msg.Statement,
		UserClaim:     msg.UserClaim,
		OpponentClaim: msg.OpponentClaim,
		Term:          msg.Term,
		Context:       contextText,
	}

	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()
	result, err := s.deps.Analysis.Analyze(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", msg.Kind).Msg("Analysis failed")
		s.sendError(supervisor.KindOf(err), err.Error())
		return
	}
	s.send(serverMessage{
		Type:   msgAnalysis,
		Kind:   msg.Kind,
		Text:   result.Text,
		Source: string(result.Source),
	})
}

func (s *Session) handleTokenize(msg clientMessage) {
	if s.deps.Tokenizer == nil {
		s.sendError(supervisor.KindServiceUnavailable, "tokenizer not configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()
	tokens := s.deps.Tokenizer.Tokenize(ctx, msg.Text)
	s.send(serverMessage{
		Type:   msgTokens,
		Words:  tokens.Words,
		Source: string(tokens.Source),
	})
}

// onFragment feeds the assembler and forwards whatever changed.
func (s *Session) onFragment(f transcript.Fragment) {
	update := s.assembler.Ingest(f)

	if update.SpeakerAssigned != "" {
		s.send(serverMessage{Type: msgSpeaker, Tag: update.SpeakerTag, Name: update.SpeakerAssigned})
	}
	if update.Entry != nil {
		s.send(serverMessage{Type: msgEntry, Entry: update.Entry})
		if s.deps.Events != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.deps.Events.EntryFinalized(ctx, s.id, *update.Entry)
			cancel()
		}
		return
	}
	if !f.IsFinal {
		s.send(serverMessage{Type: msgInterim, Text: update.Interim})
	}
}

func (s *Session) onError(err error) {
	// Terminal failures leave the backend idle; release the slot first so
	// a client reacting to the error can start again immediately.
	if supervisor.ClassOf(err) == supervisor.ClassTerminal {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}
	s.sendError(supervisor.KindOf(err), err.Error())
}

func (s *Session) onState(state supervisor.State) {
	s.send(serverMessage{Type: msgState, State: state.String()})
}

func (s *Session) sendError(kind supervisor.Kind, message string) {
	s.send(serverMessage{Type: msgError, Code: string(kind), Message: message})
}

func (s *Session) send(msg serverMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("Write to client failed")
	}
}
