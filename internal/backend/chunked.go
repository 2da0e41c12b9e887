package backend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podiumhq/transcript-gateway/internal/capture"
	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// Uploader transcribes one finalized clip. Satisfied by provider.BatchClient.
type Uploader interface {
	Transcribe(ctx context.Context, clip []byte, opts provider.UploadOptions) (*provider.TranscriptionResult, error)
}

// ChunkedConfig tunes the record-upload-repeat cycle.
type ChunkedConfig struct {
	Continuous        bool
	SessionID         string
	RecordingDuration time.Duration
	ChunkInterval     time.Duration
	SampleRate        int
	// SilenceRMS is the energy floor below which a clip is treated as
	// empty and never uploaded.
	SilenceRMS float64
	MimeType   string
	// UploadRetry bounds per-clip upload retries. A clip that exhausts
	// this budget is dropped; the capture loop itself keeps going.
	UploadRetry supervisor.RetryPolicy
}

// ChunkedBackend records fixed-duration windows, uploads each finalized
// clip to the batch provider, and emits the transcript as final fragments.
// The capture device is released between windows, and a failed or skipped
// upload never stops the loop in continuous mode.
type ChunkedBackend struct {
	source   capture.Source
	uploader Uploader
	cfg      ChunkedConfig
	handlers Handlers
	logger   zerolog.Logger
	sup      *supervisor.Supervisor

	mu        sync.Mutex
	running   bool
	connected bool
	cancel    context.CancelFunc
	stopCh    chan struct{}
	done      chan struct{}
}

// NewChunkedBackend builds a chunked backend over a capture source and an
// upload client.
func NewChunkedBackend(source capture.Source, uploader Uploader, cfg ChunkedConfig, handlers Handlers, logger zerolog.Logger) *ChunkedBackend {
	if cfg.RecordingDuration <= 0 {
		cfg.RecordingDuration = 5 * time.Second
	}
	if cfg.MimeType == "" {
		cfg.MimeType = "audio/webm"
	}
	b := &ChunkedBackend{
		source:   source,
		uploader: uploader,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With().Str("backend", string(KindChunked)).Logger(),
	}
	// The chunked loop drives its own cycles, so the supervisor's restart
	// hook stays unused; it still owns state reporting and terminal policy.
	b.sup = supervisor.New(string(KindChunked), cfg.UploadRetry, b.logger)
	b.sup.OnTerminal(b.terminal)
	if handlers.OnState != nil {
		b.sup.OnStateChange(handlers.OnState)
	}
	return b
}

func (b *ChunkedBackend) Kind() Kind { return KindChunked }

func (b *ChunkedBackend) IsSupported() bool {
	return b.source != nil && b.uploader != nil
}

// Start begins the record-upload cycle. The first cycle starts immediately;
// results and failures arrive through the handlers.
func (b *ChunkedBackend) Start(ctx context.Context) error {
	if !b.IsSupported() {
		return ErrNotSupported
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.connected = false
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	stopCh, done := b.stopCh, b.done
	b.mu.Unlock()

	b.sup.Connecting()
	go b.run(runCtx, stopCh, done)
	return nil
}

// Stop finishes the in-flight window early: the partial clip is finalized
// and uploaded before the loop exits, so speech right before stop is not
// lost. Idempotent.
func (b *ChunkedBackend) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	done := b.done
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.sup.Stop()
}

func (b *ChunkedBackend) terminal(err error) {
	b.mu.Lock()
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.handlers.error(err)
}

// run executes capture windows until stopped. Upload failures are reported
// and absorbed; only device acquisition failures can end the loop.
func (b *ChunkedBackend) run(ctx context.Context, stopCh chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		stopped, err := b.runWindow(ctx, stopCh)
		switch {
		case err == nil:
			observability.RecordBackendCycle(string(KindChunked), "ok")
		case supervisor.IsBenign(err):
			// Nothing worth uploading this window; keep cycling.
			b.logger.Debug().Err(err).Msg("skipping empty window")
			observability.RecordBackendCycle(string(KindChunked), "empty")
		case supervisor.ClassOf(err) == supervisor.ClassTerminal:
			observability.RecordBackendCycle(string(KindChunked), "error")
			b.sup.Fail(err)
			return
		default:
			// Upload or device hiccup: surface it, pace the next window,
			// and keep the loop alive.
			observability.RecordBackendCycle(string(KindChunked), "error")
			observability.RecordError(string(supervisor.KindOf(err)), string(KindChunked))
			b.handlers.error(err)
			if b.cfg.Continuous && !b.pause(ctx, stopCh, b.cfg.UploadRetry.BaseDelay) {
				stopped = true
			}
		}

		if stopped || !b.cfg.Continuous || ctx.Err() != nil {
			b.finish()
			return
		}
	}
}

// pause waits out a delay between failed windows so a broken device or
// provider is not hammered. Returns false when stopped while waiting.
func (b *ChunkedBackend) pause(ctx context.Context, stopCh chan struct{}, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (b *ChunkedBackend) finish() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.sup.Disconnected()
}

// runWindow records one window, releases the device, and uploads the clip.
// Returns stopped=true when the window ended because of an explicit Stop.
func (b *ChunkedBackend) runWindow(ctx context.Context, stopCh chan struct{}) (stopped bool, err error) {
	var clipMu sync.Mutex
	var clip []byte

	sess := capture.NewSession(b.source, capture.SessionConfig{
		Constraints:   capture.DefaultConstraints(b.cfg.SampleRate),
		ChunkInterval: b.cfg.ChunkInterval,
	}, func(chunk []byte, _ bool) {
		clipMu.Lock()
		clip = append(clip, chunk...)
		clipMu.Unlock()
	}, b.logger)

	if err := sess.Start(ctx); err != nil {
		return false, err
	}

	timer := time.NewTimer(b.cfg.RecordingDuration)
	select {
	case <-ctx.Done():
		stopped = true
	case <-stopCh:
		stopped = true
	case <-timer.C:
	}
	timer.Stop()

	// Stop flushes the final chunk into the clip and releases the device
	// before the upload starts, so back-to-back windows never contend.
	sess.Stop()

	clipMu.Lock()
	finalized := clip
	clipMu.Unlock()

	if ctx.Err() != nil {
		// Hard cancellation discards the window entirely.
		return true, supervisor.E(supervisor.KindEmptyClip, "window cancelled")
	}
	if len(finalized) == 0 {
		return stopped, supervisor.E(supervisor.KindEmptyClip, "no audio captured this window")
	}
	if b.cfg.SilenceRMS > 0 && capture.IsSilent(finalized, b.cfg.SilenceRMS) {
		return stopped, supervisor.E(supervisor.KindNoSpeech, "window below silence threshold")
	}

	return stopped, b.uploadClip(ctx, finalized)
}

// uploadClip posts one finalized clip with bounded retries and emits the
// resulting fragments.
func (b *ChunkedBackend) uploadClip(ctx context.Context, clip []byte) error {
	var result *provider.TranscriptionResult
	err := supervisor.Attempt(ctx, b.cfg.UploadRetry, func() error {
		var uerr error
		result, uerr = b.uploader.Transcribe(ctx, clip, provider.UploadOptions{
			SessionID: b.cfg.SessionID,
			MimeType:  b.cfg.MimeType,
		})
		return uerr
	})
	if err != nil {
		return err
	}

	b.markConnected()
	b.sup.ResultOK()
	b.emit(result)
	return nil
}

// markConnected reports connected on the first successful provider
// response, the chunked backend's equivalent of an open event.
func (b *ChunkedBackend) markConnected() {
	b.mu.Lock()
	first := !b.connected
	b.connected = true
	b.mu.Unlock()
	if first {
		b.sup.Connected()
	}
}

// emit converts a provider result into final fragments: one per diarized
// segment in provider order, or one flat fragment when diarization is
// absent. An empty result produces nothing.
func (b *ChunkedBackend) emit(result *provider.TranscriptionResult) {
	if result == nil {
		return
	}
	if len(result.Speakers) > 0 {
		for _, seg := range result.Speakers {
			observability.RecordFragment(string(KindChunked), true)
			b.handlers.fragment(transcript.NewFragment(seg.Text, true, seg.Confidence, seg.SpeakerTag))
		}
		return
	}
	if result.Transcript != "" {
		observability.RecordFragment(string(KindChunked), true)
		b.handlers.fragment(transcript.NewFragment(result.Transcript, true, result.Confidence, 0))
	}
}
