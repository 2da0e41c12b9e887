package transcript

import (
	"strings"
	"sync"
)

// Update describes a change the assembler made in response to one fragment,
// for consumers (the gateway session) to forward to the client.
type Update struct {
	// Entry is non-nil when a final fragment appended a new entry
	Entry *Entry

	// Interim is the current interim buffer after the fragment was applied
	Interim string

	// SpeakerAssigned is non-empty when this fragment caused a new
	// tag→name assignment, paired with SpeakerTag
	SpeakerAssigned string
	SpeakerTag      int
}

// Assembler merges incoming fragments into an ordered, append-only list of
// entries plus a single replace-on-update interim buffer. It is the single
// source of truth for the displayed transcript.
//
// Entries are appended in fragment arrival order; segments a provider
// returns out of order within one response are kept as received rather than
// re-sorted by start time.
type Assembler struct {
	mu       sync.Mutex
	entries  []Entry
	interim  string
	nextID   int64
	speakers *SpeakerRegistry
}

// NewAssembler creates an assembler backed by the given speaker registry
func NewAssembler(speakers *SpeakerRegistry) *Assembler {
	if speakers == nil {
		speakers = NewSpeakerRegistry()
	}
	return &Assembler{speakers: speakers, nextID: 1}
}

// Ingest applies one fragment. Interim fragments replace the interim buffer
// wholesale; final fragments append exactly one entry and clear the buffer.
// Blank final fragments are dropped.
func (a *Assembler) Ingest(f Fragment) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !f.IsFinal {
		a.interim = f.Text
		return Update{Interim: a.interim}
	}

	a.interim = ""

	text := strings.TrimSpace(f.Text)
	if text == "" {
		return Update{}
	}

	var update Update
	speaker := "You"
	isSelf := f.SpeakerTag == 0 || f.SpeakerTag == 1
	if f.SpeakerTag > 0 {
		known := a.speakers.Known(f.SpeakerTag)
		speaker = a.speakers.Resolve(f.SpeakerTag)
		if !known {
			update.SpeakerAssigned = speaker
			update.SpeakerTag = f.SpeakerTag
		}
	}

	entry := Entry{
		ID:        a.nextID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: f.Timestamp,
		IsSelf:    isSelf,
	}
	a.nextID++
	a.entries = append(a.entries, entry)

	update.Entry = &entry
	return update
}

// Interim returns the current interim buffer
func (a *Assembler) Interim() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interim
}

// ClearInterim empties the interim buffer, e.g. when the session stops
func (a *Assembler) ClearInterim() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = ""
}

// Entries returns a copy of the assembled transcript
func (a *Assembler) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of assembled entries
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// FullText joins all finalized entries, most useful for analysis requests
// that want the transcript so far as one string.
func (a *Assembler) FullText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	parts := make([]string, len(a.entries))
	for i, e := range a.entries {
		parts[i] = e.Text
	}
	return strings.Join(parts, " ")
}
