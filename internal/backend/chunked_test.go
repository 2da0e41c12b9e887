package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/podiumhq/transcript-gateway/internal/capture"
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
)

// feedSource serves frames pushed by the test and blocks otherwise.
type feedSource struct {
	frames  chan []byte
	openErr error

	mu     sync.Mutex
	opens  int
	closes int
}

func newFeedSource() *feedSource {
	return &feedSource{frames: make(chan []byte, 64)}
}

func (s *feedSource) Open(_ context.Context, _ capture.Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opens++
	return nil
}

func (s *feedSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *feedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *feedSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// recordingUploader scripts per-call results and records received clips.
type recordingUploader struct {
	mu      sync.Mutex
	calls   int
	clips   [][]byte
	results []uploadScript
}

type uploadScript struct {
	result *provider.TranscriptionResult
	err    error
}

func (u *recordingUploader) Transcribe(_ context.Context, clip []byte, _ provider.UploadOptions) (*provider.TranscriptionResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.clips = append(u.clips, clip)
	if len(u.results) == 0 {
		return &provider.TranscriptionResult{}, nil
	}
	script := u.results[0]
	if len(u.results) > 1 {
		u.results = u.results[1:]
	}
	return script.result, script.err
}

func (u *recordingUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func chunkedConfig(continuous bool, window time.Duration) ChunkedConfig {
	return ChunkedConfig{
		Continuous:        continuous,
		RecordingDuration: window,
		ChunkInterval:     5 * time.Millisecond,
		SampleRate:        16000,
		UploadRetry: supervisor.RetryPolicy{
			MaxAttempts: 1,
			BaseDelay:   5 * time.Millisecond,
			Multiplier:  2.0,
		},
	}
}

func TestChunked_DiarizedWindow(t *testing.T) {
	source := newFeedSource()
	source.frames <- loudFrame(800)
	uploader := &recordingUploader{results: []uploadScript{{
		result: &provider.TranscriptionResult{Speakers: []provider.SpeakerSegment{
			{SpeakerTag: 1, Text: "nuclear power is the answer", Confidence: 0.91},
			{SpeakerTag: 2, Text: "what about the waste problem", Confidence: 0.88},
		}},
	}}}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(false, 40*time.Millisecond), c.handlers(), testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return c.fragmentCount() == 2 }, "two diarized fragments")

	first, second := c.fragmentAt(0), c.fragmentAt(1)
	if first.SpeakerTag != 1 || second.SpeakerTag != 2 {
		t.Errorf("speaker tags = %d,%d, want 1,2", first.SpeakerTag, second.SpeakerTag)
	}
	if !first.IsFinal || !second.IsFinal {
		t.Error("chunked fragments must be final")
	}
	if first.Text != "nuclear power is the answer" {
		t.Errorf("first text = %q", first.Text)
	}
	if got := uploader.callCount(); got != 1 {
		t.Errorf("uploads = %d, want 1", got)
	}
	b.Stop()
}

func TestChunked_EmptyWindowSkipsUpload(t *testing.T) {
	source := newFeedSource()
	uploader := &recordingUploader{results: []uploadScript{{
		result: &provider.TranscriptionResult{Transcript: "after the silence", Confidence: 0.9},
	}}}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(true, 30*time.Millisecond), c.handlers(), testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First window captures nothing; the loop must skip the upload and
	// keep cycling until audio shows up.
	time.Sleep(40 * time.Millisecond)
	source.frames <- loudFrame(800)
	waitUntil(t, 2*time.Second, func() bool { return c.fragmentCount() == 1 }, "fragment after silent window")
	b.Stop()

	if got := uploader.callCount(); got != 1 {
		t.Errorf("uploads = %d, want 1 (silent windows must not upload)", got)
	}
	if got := c.fragmentAt(0).Text; got != "after the silence" {
		t.Errorf("fragment text = %q", got)
	}
	if n := c.errorCount(); n != 0 {
		t.Errorf("silent window surfaced %d errors, want 0", n)
	}
	if got := source.openCount(); got < 2 {
		t.Errorf("device opened %d times, want at least 2 (released between windows)", got)
	}
}

func TestChunked_UploadFailureKeepsLoopAlive(t *testing.T) {
	source := newFeedSource()
	uploader := &recordingUploader{results: []uploadScript{
		{err: supervisor.E(supervisor.KindUploadRejected, "bad clip")},
		{result: &provider.TranscriptionResult{Transcript: "recovered", Confidence: 0.9}},
	}}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(true, 30*time.Millisecond), c.handlers(), testLogger())

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				select {
				case source.frames <- loudFrame(800):
				default:
				}
			}
		}
	}()

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool { return c.fragmentCount() >= 1 }, "fragment after failed upload")
	close(stop)
	b.Stop()

	if n := c.errorCount(); n < 1 {
		t.Fatal("failed upload never surfaced an error")
	}
	if kind := supervisor.KindOf(c.errAt(0)); kind != supervisor.KindUploadRejected {
		t.Errorf("error kind = %v, want upload-rejected", kind)
	}
	if got := c.fragmentAt(0).Text; got != "recovered" {
		t.Errorf("fragment text = %q, want %q", got, "recovered")
	}
}

func TestChunked_StopFinalizesPartialWindow(t *testing.T) {
	source := newFeedSource()
	source.frames <- loudFrame(800)
	uploader := &recordingUploader{results: []uploadScript{{
		result: &provider.TranscriptionResult{Transcript: "cut short", Confidence: 0.9},
	}}}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(false, 10*time.Second), c.handlers(), testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let at least one chunk stage, then stop long before the window ends.
	time.Sleep(25 * time.Millisecond)
	b.Stop()

	if got := uploader.callCount(); got != 1 {
		t.Fatalf("uploads = %d, want 1 (stop must finalize the partial clip)", got)
	}
	if got := c.fragmentCount(); got != 1 {
		t.Fatalf("fragments = %d, want 1", got)
	}
	if got := c.fragmentAt(0).Text; got != "cut short" {
		t.Errorf("fragment text = %q", got)
	}
}

func TestChunked_PermissionDeniedIsTerminal(t *testing.T) {
	source := newFeedSource()
	source.openErr = capture.ErrPermissionDenied
	uploader := &recordingUploader{}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(true, 30*time.Millisecond), c.handlers(), testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return c.errorCount() == 1 }, "terminal error")

	if kind := supervisor.KindOf(c.errAt(0)); kind != supervisor.KindPermissionDenied {
		t.Errorf("error kind = %v, want permission-denied", kind)
	}
	if got := uploader.callCount(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
}

func TestChunked_SingleShotReturnsToIdle(t *testing.T) {
	source := newFeedSource()
	source.frames <- loudFrame(800)
	uploader := &recordingUploader{results: []uploadScript{{
		result: &provider.TranscriptionResult{Transcript: "one and done", Confidence: 0.9},
	}}}
	var c collector
	b := NewChunkedBackend(source, uploader, chunkedConfig(false, 30*time.Millisecond), c.handlers(), testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return c.fragmentCount() == 1 }, "single window fragment")
	waitUntil(t, time.Second, func() bool { return c.sawState(supervisor.StateIdle) }, "return to idle")

	time.Sleep(50 * time.Millisecond)
	if got := uploader.callCount(); got != 1 {
		t.Errorf("uploads = %d, want 1 (single-shot must not cycle)", got)
	}
}
