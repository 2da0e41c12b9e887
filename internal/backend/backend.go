// Package backend implements the transcription strategies that turn
// captured audio into transcript fragments: native engine recognition,
// windowed clip upload, and continuous low-latency streaming. All three
// share one interface and are supervised by the same retry state machine,
// selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// Kind selects a transcription strategy.
type Kind string

const (
	KindNative    Kind = "native"
	KindChunked   Kind = "chunked"
	KindStreaming Kind = "streaming"
)

// Handlers receive a backend's outputs. OnFragment is called once per
// transcript fragment in provider order; OnError receives user-facing
// errors (terminal failures always arrive here); OnState observes the
// supervisor's connection state.
type Handlers struct {
	OnFragment func(transcript.Fragment)
	OnError    func(error)
	OnState    func(supervisor.State)
}

func (h Handlers) fragment(f transcript.Fragment) {
	if h.OnFragment != nil {
		h.OnFragment(f)
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Backend is one transcription strategy bound to a capture source and a
// provider. Start is asynchronous: failures after a successful Start are
// delivered through Handlers. Stop is idempotent and safe from any state,
// including mid-upload and mid-retry-delay.
type Backend interface {
	Start(ctx context.Context) error
	Stop()
	IsSupported() bool
	Kind() Kind
}

// ErrAlreadyRunning is returned by Start on an active backend.
var ErrAlreadyRunning = fmt.Errorf("backend already running")

// ErrNotSupported is returned by Start when the strategy's dependencies
// are not available.
var ErrNotSupported = fmt.Errorf("backend not supported in this configuration")
