package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/rs/zerolog"
)

func testBreaker() *supervisor.CircuitBreaker {
	return supervisor.NewCircuitBreaker("test", 100, time.Minute)
}

func clip(n int) []byte {
	return make([]byte, n)
}

func TestBatchClient_DiarizedResponse(t *testing.T) {
	var gotSessionID, gotInterim string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart upload: %v", err)
		}
		gotSessionID = r.FormValue("session_id")
		gotInterim = r.FormValue("interim")
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("Missing audio part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"result":{"speakers":[
			{"speakerTag":1,"text":"A","startTime":"0s","endTime":"1s"},
			{"speakerTag":2,"text":"B","startTime":"1s","endTime":"2s","confidence":0.9}
		]}}`))
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, 16, 1<<20, testBreaker(), zerolog.Nop())
	result, err := c.Transcribe(context.Background(), clip(100), UploadOptions{SessionID: "s-1", Interim: true})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(result.Speakers) != 2 {
		t.Fatalf("Expected 2 speaker segments, got %d", len(result.Speakers))
	}
	if result.Speakers[0].SpeakerTag != 1 || result.Speakers[1].Text != "B" {
		t.Errorf("Unexpected segments: %+v", result.Speakers)
	}
	if gotSessionID != "s-1" || gotInterim != "true" {
		t.Errorf("Expected session tags forwarded, got id=%q interim=%q", gotSessionID, gotInterim)
	}
}

func TestBatchClient_FlatTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":{"transcript":"hello world","confidence":0.95}}`))
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, 16, 1<<20, testBreaker(), zerolog.Nop())
	result, err := c.Transcribe(context.Background(), clip(100), UploadOptions{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Transcript != "hello world" || result.Confidence != 0.95 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestBatchClient_PayloadGuards(t *testing.T) {
	c := NewBatchClient("http://unused.invalid", 100, 1000, testBreaker(), zerolog.Nop())

	_, err := c.Transcribe(context.Background(), clip(10), UploadOptions{})
	if supervisor.KindOf(err) != supervisor.KindPayloadTooSmall {
		t.Errorf("Expected payload-too-small, got %v", err)
	}

	_, err = c.Transcribe(context.Background(), clip(2000), UploadOptions{})
	if supervisor.KindOf(err) != supervisor.KindPayloadTooLarge {
		t.Errorf("Expected payload-too-large, got %v", err)
	}
}

func TestBatchClient_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, 16, 1<<20, testBreaker(), zerolog.Nop())
	_, err := c.Transcribe(context.Background(), clip(100), UploadOptions{})
	if supervisor.ClassOf(err) != supervisor.ClassRetryable {
		t.Errorf("Expected retryable class for HTTP 502, got %v (%v)", supervisor.ClassOf(err), err)
	}
}

func TestBatchClient_MalformedResponseIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":`))
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, 16, 1<<20, testBreaker(), zerolog.Nop())
	_, err := c.Transcribe(context.Background(), clip(100), UploadOptions{})
	if supervisor.KindOf(err) != supervisor.KindParse {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestBatchClient_ProviderReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"unsupported codec"}`))
	}))
	defer srv.Close()

	c := NewBatchClient(srv.URL, 16, 1<<20, testBreaker(), zerolog.Nop())
	_, err := c.Transcribe(context.Background(), clip(100), UploadOptions{})
	if supervisor.ClassOf(err) != supervisor.ClassPayload {
		t.Errorf("Expected payload class for provider-reported failure, got %v", err)
	}
}

func TestBatchClient_NetworkErrorIsRetryable(t *testing.T) {
	c := NewBatchClient("http://127.0.0.1:1", 16, 1<<20, testBreaker(), zerolog.Nop())
	_, err := c.Transcribe(context.Background(), clip(100), UploadOptions{})
	if supervisor.KindOf(err) != supervisor.KindNetwork {
		t.Errorf("Expected network error, got %v", err)
	}
}
