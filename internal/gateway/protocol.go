// Package gateway exposes the capture pipeline over a WebSocket: the
// client streams microphone audio as binary frames and drives the session
// with JSON control messages; the gateway answers with transcript updates,
// connection state, and collaborator results.
package gateway

import (
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/transcript"
)

// Client message types.
const (
	msgStart       = "start"
	msgStop        = "stop"
	msgAnalyze     = "analyze"
	msgTokenize    = "tokenize"
	msgRecognition = "recognition"
)

// Server message types.
const (
	msgSession  = "session"
	msgState    = "state"
	msgInterim  = "interim"
	msgEntry    = "entry"
	msgSpeaker  = "speaker"
	msgError    = "error"
	msgAnalysis = "analysis"
	msgTokens   = "tokens"
	msgStopped  = "stopped"
)

// relayResult is one recognition alternative relayed by the client when
// the native backend runs against the browser's own recognition engine.
type relayResult struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// relayError carries the browser engine's error code.
type relayError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// clientMessage is one JSON control frame from the client. Binary frames
// carry raw PCM16 audio and never reach this type.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Backend    string `json:"backend,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
	Language   string `json:"language,omitempty"`

	// analyze
	Kind          string `json:"kind,omitempty"`
	Statement     string `json:"statement,omitempty"`
	UserClaim     string `json:"userClaim,omitempty"`
	OpponentClaim string `json:"opponentClaim,omitempty"`
	Term          string `json:"term,omitempty"`
	Context       string `json:"context,omitempty"`

	// tokenize
	Text string `json:"text,omitempty"`

	// recognition relay
	Results []relayResult `json:"results,omitempty"`
	Error   *relayError   `json:"error,omitempty"`
	Ended   bool          `json:"ended,omitempty"`
}

// serverMessage is one JSON frame to the client.
type serverMessage struct {
	Type string `json:"type"`

	SessionID string            `json:"session_id,omitempty"`
	State     string            `json:"state,omitempty"`
	Text      string            `json:"text,omitempty"`
	Entry     *transcript.Entry `json:"entry,omitempty"`

	// speaker assignment
	Tag  int    `json:"tag,omitempty"`
	Name string `json:"name,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// analysis / tokens
	Kind   string           `json:"kind,omitempty"`
	Source string           `json:"source,omitempty"`
	Words  []provider.Token `json:"words,omitempty"`

	// stopped
	Entries int `json:"entries,omitempty"`
}
