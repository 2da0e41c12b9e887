package provider

// SpeakerSegment is one diarized slice of a provider transcript.
type SpeakerSegment struct {
	SpeakerTag int     `json:"speakerTag"`
	Text       string  `json:"text"`
	StartTime  string  `json:"startTime,omitempty"`
	EndTime    string  `json:"endTime,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptionResult is the payload inside a successful provider response:
// either a flat transcript, speaker segments, or both.
type TranscriptionResult struct {
	Transcript string           `json:"transcript,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Speakers   []SpeakerSegment `json:"speakers,omitempty"`
}

// transcriptionEnvelope is the wire envelope of the batch provider.
type transcriptionEnvelope struct {
	Success bool                 `json:"success"`
	Result  *TranscriptionResult `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// ResultSource tags which path produced a collaborator result, so callers
// never have to sniff response text to know whether they got the real
// service, the fallback, or a mock.
type ResultSource string

const (
	SourcePrimary  ResultSource = "primary"
	SourceFallback ResultSource = "fallback"
	SourceMock     ResultSource = "mock"
	SourceLocal    ResultSource = "local"
)
