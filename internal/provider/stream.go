package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
	"github.com/rs/zerolog"
)

// Stream event types emitted by the streaming transcription relay.
const (
	StreamConnected     = "connected"
	StreamTranscript    = "transcript"
	StreamUtteranceEnd  = "utterance_end"
	StreamSpeechStarted = "speech_started"
	StreamError         = "error"
	StreamHeartbeat     = "heartbeat"
)

// StreamEvent is one JSON event from the streaming relay.
type StreamEvent struct {
	Type       string           `json:"type"`
	Transcript string           `json:"transcript,omitempty"`
	IsFinal    bool             `json:"is_final,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Speakers   []SpeakerSegment `json:"speakers,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// StreamConn is a live connection to the streaming transcription relay.
// Audio goes out as binary frames; transcript events come back as JSON.
// The events channel closes when the connection ends; a transport failure
// is delivered as one final error-typed event before the close.
type StreamConn struct {
	conn   *websocket.Conn
	events chan StreamEvent
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// DialStream opens a streaming session. The session id correlates this
// client's chunks server-side; interim asks the relay for provisional
// results.
func DialStream(ctx context.Context, baseURL, sessionID string, sampleRate int, interim bool, logger zerolog.Logger) (*StreamConn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream provider URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("interim", strconv.FormatBool(interim))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindNetwork, "failed to connect to streaming provider", err)
	}

	sc := &StreamConn{
		conn:   conn,
		events: make(chan StreamEvent, 100),
		logger: logger.With().Str("provider", "stream").Str("session_id", sessionID).Logger(),
		closed: make(chan struct{}),
	}
	go sc.readLoop()
	return sc, nil
}

func (c *StreamConn) readLoop() {
	defer close(c.events)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Clean close requested by us.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn().Err(err).Msg("Stream read failed")
				}
				c.deliver(StreamEvent{Type: StreamError, Error: err.Error()})
			}
			return
		}

		var event StreamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			// One malformed event is discarded; the stream continues.
			c.logger.Warn().Err(err).Msg("Discarding malformed stream event")
			continue
		}
		c.deliver(event)
	}
}

func (c *StreamConn) deliver(event StreamEvent) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn().Str("type", event.Type).Msg("Stream event channel full, dropping event")
	}
}

// SendAudio writes one packaged chunk as a binary frame.
func (c *StreamConn) SendAudio(chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return supervisor.Wrap(supervisor.KindNetwork, "failed to send audio chunk", err)
	}
	return nil
}

// Events returns the inbound event channel.
func (c *StreamConn) Events() <-chan StreamEvent {
	return c.events
}

// Close sends a close frame and tears down the connection. Idempotent.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
