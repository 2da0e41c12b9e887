package transcript

import "time"

// DefaultConfidence is used when a provider does not report a score.
const DefaultConfidence = 0.8

// Fragment is one piece of transcribed text plus metadata, produced by a
// transcription backend on every provider response. A fragment is either
// interim (provisional, may change) or final (settled). Fragments are
// immutable once created and consumed exactly once by the Assembler.
type Fragment struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates whether this fragment is settled (true) or an
	// interim result that later fragments will replace (false)
	IsFinal bool

	// Confidence is the provider-supplied score in [0,1], or
	// DefaultConfidence when the provider omits one
	Confidence float64

	// Timestamp is the wall-clock time the fragment was produced
	Timestamp time.Time

	// SpeakerTag is the 1-based diarization tag, or 0 when the provider
	// reported no speaker information
	SpeakerTag int
}

// NewFragment builds a fragment stamped with the current time, defaulting
// the confidence score when the provider omitted it.
func NewFragment(text string, isFinal bool, confidence float64, speakerTag int) Fragment {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return Fragment{
		Text:       text,
		IsFinal:    isFinal,
		Confidence: confidence,
		Timestamp:  time.Now(),
		SpeakerTag: speakerTag,
	}
}

// Entry is an assembled, display-ready transcript line. Entries are created
// only from final fragments, are append-only, and are never mutated or
// reordered after creation.
type Entry struct {
	// ID increases monotonically across the life of an Assembler
	ID int64 `json:"id"`

	// Speaker is the resolved display name for the fragment's speaker tag
	Speaker string `json:"speaker"`

	// Text is the finalized text
	Text string `json:"text"`

	// Timestamp is the display timestamp
	Timestamp time.Time `json:"timestamp"`

	// IsSelf is true when the fragment carried no speaker info or the tag
	// was 1, i.e. the line is attributed to the presenting user
	IsSelf bool `json:"isSelf"`
}
