package gateway

import (
	"context"
	"testing"

	"github.com/podiumhq/transcript-gateway/internal/backend"
)

func TestRelayEngine_DeliversToCurrentSession(t *testing.T) {
	e := newRelayEngine()
	session, err := e.Start(context.Background(), backend.EngineConfig{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.deliver(backend.EngineEvent{Results: []backend.EngineResult{{Text: "hello", Final: true}}})
	ev := <-session.Events()
	if len(ev.Results) != 1 || ev.Results[0].Text != "hello" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRelayEngine_EndedClosesSession(t *testing.T) {
	e := newRelayEngine()
	session, _ := e.Start(context.Background(), backend.EngineConfig{})

	e.deliver(backend.EngineEvent{Ended: true})
	ev, ok := <-session.Events()
	if !ok || !ev.Ended {
		t.Fatalf("expected ended event, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-session.Events(); ok {
		t.Error("channel still open after ended event")
	}

	// Events after the end are dropped, not panics.
	e.deliver(backend.EngineEvent{Results: []backend.EngineResult{{Text: "late"}}})
}

func TestRelayEngine_RestartDisplacesOldSession(t *testing.T) {
	e := newRelayEngine()
	first, _ := e.Start(context.Background(), backend.EngineConfig{})
	second, _ := e.Start(context.Background(), backend.EngineConfig{})

	// The displaced session is closed so its consumer unblocks.
	if _, ok := <-first.Events(); ok {
		t.Error("displaced session left open")
	}

	e.deliver(backend.EngineEvent{Results: []backend.EngineResult{{Text: "fresh"}}})
	ev := <-second.Events()
	if len(ev.Results) != 1 || ev.Results[0].Text != "fresh" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRelayEngine_DropsBetweenSessions(t *testing.T) {
	e := newRelayEngine()
	session, _ := e.Start(context.Background(), backend.EngineConfig{})
	if err := session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// No current session: delivery is a no-op.
	e.deliver(backend.EngineEvent{Results: []backend.EngineResult{{Text: "lost"}}})
}
