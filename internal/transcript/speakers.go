package transcript

import (
	"fmt"
	"sync"
)

// namePool is the fixed ordered pool of display names handed out to speaker
// tags in first-seen order. Tags beyond the pool get a synthesized label.
var namePool = []string{"Speaker A", "Speaker B", "Speaker C", "Speaker D", "Speaker E"}

// SpeakerRegistry assigns stable display names to numeric diarization tags.
// A tag's name is assigned exactly once and never changes for the life of
// the registry; re-resolution of a known tag is a no-op returning the same
// name, even under rapid-fire resolution of one response batch.
type SpeakerRegistry struct {
	mu    sync.Mutex
	names map[int]string
	next  int
}

// NewSpeakerRegistry creates an empty registry
func NewSpeakerRegistry() *SpeakerRegistry {
	return &SpeakerRegistry{names: make(map[int]string)}
}

// Resolve returns the display name for a speaker tag, assigning the next
// pool name (or a synthesized "Speaker N" label past the pool) the first
// time the tag is seen. Register-or-return-existing is a single step under
// the lock so concurrent resolution of the same tag cannot assign twice.
func (r *SpeakerRegistry) Resolve(tag int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.names[tag]; ok {
		return name
	}

	var name string
	if r.next < len(namePool) {
		name = namePool[r.next]
	} else {
		name = fmt.Sprintf("Speaker %d", tag)
	}
	r.next++
	r.names[tag] = name
	return name
}

// Known reports whether a tag has been resolved before
func (r *SpeakerRegistry) Known(tag int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[tag]
	return ok
}

// Len returns the number of assigned tags
func (r *SpeakerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// Reset drops all assignments. Used when a new session begins; names are
// stable only within a session.
func (r *SpeakerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[int]string)
	r.next = 0
}
