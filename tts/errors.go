package tts

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for the speech layer.
var (
	// Configuration errors
	ErrConfigurationMissing = errors.New("speech service not configured")
	ErrInvalidConfig        = errors.New("invalid configuration")

	// Cloud errors
	ErrTokenRequestFailed     = errors.New("token request failed")
	ErrSynthesisRequestFailed = errors.New("synthesis request failed")
	ErrCloudUnavailable       = errors.New("cloud speech is not available")

	// Playback errors
	ErrPlaybackFailed    = errors.New("playback failed")
	ErrHandleReleased    = errors.New("audio handle has been released")
	ErrInterrupted       = errors.New("utterance interrupted")
	ErrFallbackExhausted = errors.New("local fallback failed")

	// User errors
	ErrUserCancelled = errors.New("speech cancelled by user")
	ErrEmptyText     = errors.New("text cannot be empty")

	// Controller errors
	ErrInvalidState   = errors.New("invalid state for operation")
	ErrServiceClosed  = errors.New("speech service has been closed")
	ErrNotImplemented = errors.New("feature not implemented")
)

// ErrorKind classifies an error for callers that only need the taxonomy.
type ErrorKind int

const (
	// KindUnknown is any error outside the taxonomy.
	KindUnknown ErrorKind = iota
	// KindConfigurationMissing means no credentials are configured.
	KindConfigurationMissing
	// KindTokenRequestFailed means the token exchange failed.
	KindTokenRequestFailed
	// KindSynthesisRequestFailed means text-to-audio conversion failed.
	KindSynthesisRequestFailed
	// KindPlaybackFailed means the local engine or audio output failed.
	KindPlaybackFailed
	// KindUserCancelled means an explicit stop.
	KindUserCancelled
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfigurationMissing:
		return "ConfigurationMissing"
	case KindTokenRequestFailed:
		return "TokenRequestFailed"
	case KindSynthesisRequestFailed:
		return "SynthesisRequestFailed"
	case KindPlaybackFailed:
		return "PlaybackFailed"
	case KindUserCancelled:
		return "UserCancelled"
	default:
		return "Unknown"
	}
}

// KindOf maps err onto the error taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUserCancelled), errors.Is(err, ErrInterrupted):
		return KindUserCancelled
	case errors.Is(err, ErrConfigurationMissing):
		return KindConfigurationMissing
	case errors.Is(err, ErrTokenRequestFailed):
		return KindTokenRequestFailed
	case errors.Is(err, ErrSynthesisRequestFailed):
		return KindSynthesisRequestFailed
	case errors.Is(err, ErrPlaybackFailed),
		errors.Is(err, ErrFallbackExhausted),
		errors.Is(err, ErrHandleReleased):
		return KindPlaybackFailed
	default:
		return KindUnknown
	}
}

// IsRecoverableError reports whether err may be answered with a fallback to
// the local engine. Cancellations and exhausted fallbacks are final.
func IsRecoverableError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrFallbackExhausted) {
		return false
	}
	switch KindOf(err) {
	case KindUserCancelled:
		return false
	default:
		return true
	}
}

// Message returns the human-readable message shown for err.
func Message(err error) string {
	switch KindOf(err) {
	case KindConfigurationMissing:
		return "Speech service is not configured"
	case KindTokenRequestFailed:
		var se *SpeechError
		if errors.As(err, &se) && se.StatusCode != 0 {
			return fmt.Sprintf("Token request failed: %d", se.StatusCode)
		}
		return "Token request failed"
	case KindSynthesisRequestFailed:
		return "Failed to speak text"
	case KindPlaybackFailed:
		return "Audio playback failed"
	case KindUserCancelled:
		return ""
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// SpeechError provides detailed error information.
type SpeechError struct {
	Err        error     // Sentinel from the taxonomy
	Component  string    // Component that generated the error
	Action     string    // Action being performed when the error occurred
	StatusCode int       // HTTP status, when the error came from an endpoint
	Cause      error     // Underlying error, if any
	Timestamp  time.Time // When the error occurred
}

// Error implements the error interface.
func (e *SpeechError) Error() string {
	msg := "unknown speech error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: %d", msg, e.StatusCode)
	}
	if e.Component != "" {
		msg = e.Component + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *SpeechError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewSpeechError creates a new speech error with context.
func NewSpeechError(err error, component, action string) *SpeechError {
	return &SpeechError{
		Err:       err,
		Component: component,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// WithStatus sets the HTTP status code.
func (e *SpeechError) WithStatus(code int) *SpeechError {
	e.StatusCode = code
	return e
}

// WithCause sets the underlying error.
func (e *SpeechError) WithCause(cause error) *SpeechError {
	e.Cause = cause
	return e
}
