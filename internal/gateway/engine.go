package gateway

import (
	"context"
	"sync"

	"github.com/podiumhq/transcript-gateway/internal/backend"
)

// relayEngine is a backend.RecognitionEngine driven by recognition events
// the client relays over the control channel. The browser runs its own
// speech engine against the live microphone; the gateway supervises it,
// assembles its fragments, and restarts it through the client.
type relayEngine struct {
	mu      sync.Mutex
	current *relaySession
}

func newRelayEngine() *relayEngine { return &relayEngine{} }

func (e *relayEngine) Supported() bool { return true }

// Start opens a new relay session, displacing any previous one.
func (e *relayEngine) Start(_ context.Context, _ backend.EngineConfig) (backend.EngineSession, error) {
	session := &relaySession{
		events: make(chan backend.EngineEvent, 32),
		engine: e,
	}
	e.mu.Lock()
	old := e.current
	e.current = session
	e.mu.Unlock()
	if old != nil {
		_ = old.Stop()
	}
	return session, nil
}

// deliver forwards one relayed event to the current session. Events that
// arrive between sessions (e.g. during a restart delay) are dropped; the
// client re-syncs on the next session start.
func (e *relayEngine) deliver(ev backend.EngineEvent) {
	e.mu.Lock()
	session := e.current
	e.mu.Unlock()
	if session != nil {
		session.deliver(ev)
	}
}

// detach forgets the session if it is still current.
func (e *relayEngine) detach(session *relaySession) {
	e.mu.Lock()
	if e.current == session {
		e.current = nil
	}
	e.mu.Unlock()
}

type relaySession struct {
	events chan backend.EngineEvent
	engine *relayEngine

	mu     sync.Mutex
	closed bool
}

func (s *relaySession) Events() <-chan backend.EngineEvent { return s.events }

func (s *relaySession) Stop() error {
	s.engine.detach(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *relaySession) deliver(ev backend.EngineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Recognition events are tiny and the consumer is fast; a full
		// buffer means the session is wedged, so drop instead of blocking
		// the WebSocket read loop.
	}
	if ev.Ended {
		s.closed = true
		close(s.events)
	}
}
