package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/rs/zerolog"
)

// UploadOptions tag one clip upload.
type UploadOptions struct {
	// SessionID correlates streamed chunks server-side; empty for one-shot
	// batch clips.
	SessionID string

	// Interim asks the provider for provisional results where supported.
	Interim bool

	// MimeType of the clip; webm/opus preferred, wav/mp3/ogg acceptable.
	MimeType string
}

// BatchClient uploads finalized audio clips to the batch transcription
// endpoint as multipart form data. Calls are guarded by a circuit breaker so
// a down provider stops being hammered by every capture cycle.
type BatchClient struct {
	url        string
	httpClient *http.Client
	minPayload int
	maxPayload int
	breaker    *supervisor.CircuitBreaker
	logger     zerolog.Logger
}

// NewBatchClient creates a client for the batch transcription endpoint.
func NewBatchClient(url string, minPayload, maxPayload int, breaker *supervisor.CircuitBreaker, logger zerolog.Logger) *BatchClient {
	return &BatchClient{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		minPayload: minPayload,
		maxPayload: maxPayload,
		breaker:    breaker,
		logger:     logger.With().Str("provider", "batch").Logger(),
	}
}

// Transcribe uploads one clip and returns the parsed result. Payload-guard
// violations fail the single upload without touching the breaker or the
// session; transport failures are network-class and retryable.
func (c *BatchClient) Transcribe(ctx context.Context, clip []byte, opts UploadOptions) (*TranscriptionResult, error) {
	if len(clip) < c.minPayload {
		return nil, supervisor.E(supervisor.KindPayloadTooSmall,
			fmt.Sprintf("clip is %d bytes, provider minimum is %d", len(clip), c.minPayload))
	}
	if len(clip) > c.maxPayload {
		return nil, supervisor.E(supervisor.KindPayloadTooLarge,
			fmt.Sprintf("clip is %d bytes, provider maximum is %d", len(clip), c.maxPayload))
	}

	start := time.Now()
	var result *TranscriptionResult
	err := c.breaker.Call(func() error {
		var callErr error
		result, callErr = c.upload(ctx, clip, opts)
		return callErr
	})
	observability.RecordProviderRequest("batch", err, time.Since(start))
	return result, err
}

func (c *BatchClient) upload(ctx context.Context, clip []byte, opts UploadOptions) (*TranscriptionResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if opts.SessionID != "" {
		if err := mw.WriteField("session_id", opts.SessionID); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.WriteField("interim", strconv.FormatBool(opts.Interim)); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	filename := "clip.webm"
	if opts.MimeType != "" && opts.MimeType != "audio/webm" {
		filename = "clip.bin"
	}
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := fw.Write(clip); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindNetwork, "transcription upload failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, supervisor.E(supervisor.KindPayloadTooLarge, "provider rejected clip as too large")
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, supervisor.E(supervisor.KindUnsupportedMedia, "provider rejected clip mime type")
	case resp.StatusCode >= 500:
		return nil, supervisor.E(supervisor.KindServiceUnavailable,
			fmt.Sprintf("provider returned HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, supervisor.E(supervisor.KindUploadRejected,
			fmt.Sprintf("provider rejected upload with HTTP %d: %s", resp.StatusCode, string(b)))
	}

	var envelope transcriptionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, supervisor.Wrap(supervisor.KindParse, "malformed provider response", err)
	}
	if !envelope.Success || envelope.Result == nil {
		msg := envelope.Error
		if msg == "" {
			msg = "provider reported failure without detail"
		}
		return nil, supervisor.E(supervisor.KindUploadRejected, msg)
	}
	return envelope.Result, nil
}

// Ready is a lightweight readiness probe: it validates that the client is
// configured without issuing a billable transcription call.
func (c *BatchClient) Ready(ctx context.Context) (bool, error) {
	if c.url == "" {
		return false, fmt.Errorf("batch provider URL not configured")
	}
	return true, nil
}
