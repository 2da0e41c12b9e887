package supervisor

import (
	"errors"
	"fmt"
)

// Class buckets an error for the supervisor's failure policy.
type Class int

const (
	// ClassRetryable errors consume the retry budget and schedule a restart
	ClassRetryable Class = iota
	// ClassTerminal errors end the session immediately with no retry
	ClassTerminal
	// ClassBenign signals (no speech, empty clip) are silently absorbed
	ClassBenign
	// ClassPayload errors fail a single upload attempt; continuous loops proceed
	ClassPayload
	// ClassParse errors discard one provider response; the session continues
	ClassParse
)

// Kind identifies the failure condition.
type Kind string

const (
	KindPermissionDenied  Kind = "permission-denied"
	KindDeviceUnavailable Kind = "device-unavailable"
	KindNetwork           Kind = "network"
	KindServiceUnavailable Kind = "service-unavailable"
	KindTimeout           Kind = "timeout"
	KindAudioCapture      Kind = "audio-capture"
	KindServiceNotAllowed Kind = "service-not-allowed"
	KindEngineEnded       Kind = "engine-ended"
	KindNoSpeech          Kind = "no-speech"
	KindEmptyClip         Kind = "empty-clip"
	KindPayloadTooSmall   Kind = "payload-too-small"
	KindPayloadTooLarge   Kind = "payload-too-large"
	KindUnsupportedMedia  Kind = "unsupported-media"
	KindUploadRejected    Kind = "upload-rejected"
	KindParse             Kind = "parse"
	KindRetryExhausted    Kind = "retry-exhausted"
	KindUnknown           Kind = "unknown"
)

// classOf maps kinds to their failure class. Permission denial is always
// terminal; no-speech/timeout/network/service-unavailable are retryable up
// to the budget; parse errors never transition the state machine.
var classOf = map[Kind]Class{
	KindPermissionDenied:   ClassTerminal,
	KindDeviceUnavailable:  ClassTerminal,
	KindNetwork:            ClassRetryable,
	KindServiceUnavailable: ClassRetryable,
	KindTimeout:            ClassRetryable,
	KindAudioCapture:       ClassRetryable,
	KindServiceNotAllowed:  ClassRetryable,
	KindEngineEnded:        ClassRetryable,
	KindNoSpeech:           ClassBenign,
	KindEmptyClip:          ClassBenign,
	KindPayloadTooSmall:    ClassPayload,
	KindPayloadTooLarge:    ClassPayload,
	KindUnsupportedMedia:   ClassPayload,
	KindUploadRejected:     ClassPayload,
	KindParse:              ClassParse,
	KindRetryExhausted:     ClassTerminal,
}

// Error is a classified pipeline error carrying a user-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a user-readable message
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of an error, or KindUnknown for unclassified
// errors (which the policy treats as retryable).
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// ClassOf returns the failure class for an error
func ClassOf(err error) Class {
	if c, ok := classOf[KindOf(err)]; ok {
		return c
	}
	return ClassRetryable
}

// IsBenign reports whether an error is a transient signal that should be
// absorbed without reporting.
func IsBenign(err error) bool {
	return ClassOf(err) == ClassBenign
}
