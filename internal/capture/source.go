package capture

import (
	"context"

	"github.com/podiumhq/transcript-gateway/internal/supervisor"
)

// Errors surfaced when acquiring the capture device.
var (
	// ErrPermissionDenied is terminal: the user or platform denied access.
	ErrPermissionDenied = supervisor.E(supervisor.KindPermissionDenied, "microphone access denied")

	// ErrDeviceUnavailable is terminal: no compatible capture device exists.
	ErrDeviceUnavailable = supervisor.E(supervisor.KindDeviceUnavailable, "no compatible capture device")

	// ErrDeviceBusy is returned when a second session tries to claim a
	// source already owned by an active session.
	ErrDeviceBusy = supervisor.E(supervisor.KindAudioCapture, "capture device already owned by an active session")
)

// Constraints fix the capture format. The pipeline records 16 kHz mono
// PCM16 with the usual microphone conditioning enabled.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns the pipeline's fixed capture constraints.
func DefaultConstraints(sampleRate int) Constraints {
	return Constraints{
		SampleRate:       sampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source is a raw audio input: a local device, or the gateway's WebSocket
// feed of client microphone frames. Open may suspend indefinitely while a
// permission prompt is pending and must honor ctx cancellation.
type Source interface {
	// Open acquires the device with the given constraints. It returns
	// ErrPermissionDenied or ErrDeviceUnavailable on the corresponding
	// failures.
	Open(ctx context.Context, c Constraints) error

	// Read blocks until the next raw audio frame is available, the source
	// ends (io.EOF), or ctx is cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Close releases the device. Idempotent.
	Close() error
}
