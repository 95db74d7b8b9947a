package tts

import (
	"context"
	"errors"
	"fmt"
)

// CloudSynthesizer converts text to encoded audio through the synthesize
// endpoint.
type CloudSynthesizer interface {
	// Synthesize returns the decoded payload of a successful response.
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

// StreamSynthesizer synthesizes SSML over a direct connection and reports
// word boundaries while it does so.
type StreamSynthesizer interface {
	// SynthesizeStream starts synthesis. Boundary events arrive on the
	// returned stream until it settles with exactly one outcome.
	SynthesizeStream(ctx context.Context, req StreamRequest) (*SynthesisStream, error)
}

// StatusChecker probes whether the cloud backend is configured.
type StatusChecker interface {
	Status(ctx context.Context) Status
}

// LocalEngine is the operating system synthesizer used as fallback.
type LocalEngine interface {
	// Speak blocks until the utterance finishes. It returns ErrInterrupted
	// when Cancel stopped it.
	Speak(ctx context.Context, text string, opts LocalOptions) error

	// Pause suspends the current utterance.
	Pause() error

	// Resume continues a paused utterance.
	Resume() error

	// Cancel interrupts the current utterance, if any.
	Cancel() error

	// Voices lists the voices installed on this machine.
	Voices(ctx context.Context) ([]Voice, error)

	// IsAvailable checks if the synthesizer binary can be used.
	IsAvailable() bool
}

// SynthesisRequest is the body of a synthesize call.
type SynthesisRequest struct {
	Text     string
	Language string
	Voice    string
	Rate     float64
	Pitch    float64
}

// SynthesisResult is a narrowed successful synthesize response.
type SynthesisResult struct {
	Audio    []byte // Encoded audio (mp3)
	Format   string // MIME type, always "audio/mp3"
	Voice    string
	Language string
}

// Status is the narrowed status endpoint response.
type Status struct {
	Available bool
	Message   string
}

// LocalOptions configures a local utterance.
type LocalOptions struct {
	Language string
	Voice    string
	Rate     float64
	Pitch    float64
}

// StreamRequest is a direct-connect synthesis request.
type StreamRequest struct {
	Text  string // Plain text, used to locate word offsets
	SSML  string // Markup actually sent to the backend
	Voice string
}

// SynthesisStream is a running direct-connect synthesis.
type SynthesisStream struct {
	// Boundaries is closed when synthesis ends.
	Boundaries <-chan BoundaryEvent
	// Result receives exactly one outcome, after Boundaries is closed.
	Result <-chan SynthesisOutcome
}

// BoundaryEvent is a raw provider timing marker.
type BoundaryEvent struct {
	Text             string // Word as reported by the provider
	TextOffset       int    // Character offset into the spoken text
	AudioOffsetTicks int64  // Hundred-nanosecond ticks
	DurationTicks    int64  // Hundred-nanosecond ticks
}

// SynthesisReason is the terminal reason of a synthesis.
type SynthesisReason int

const (
	// ReasonCompleted means all audio was produced.
	ReasonCompleted SynthesisReason = iota
	// ReasonCanceled means synthesis stopped early.
	ReasonCanceled
)

// CancelReason qualifies ReasonCanceled.
type CancelReason int

const (
	// CancelNone is used with ReasonCompleted.
	CancelNone CancelReason = iota
	// CancelError means the backend reported an error.
	CancelError
	// CancelUser means the caller stopped synthesis.
	CancelUser
)

// SynthesisOutcome is the terminal value of a SynthesisStream.
type SynthesisOutcome struct {
	Reason       SynthesisReason
	CancelReason CancelReason
	ErrorDetails string
	Audio        []byte // Encoded audio (mp3)
}

// Err converts the outcome into the error taxonomy. User cancellation
// resolves as ErrUserCancelled, which callers treat as completion.
func (o SynthesisOutcome) Err() error {
	if o.Reason == ReasonCompleted {
		return nil
	}
	if o.CancelReason == CancelUser {
		return ErrUserCancelled
	}
	return NewSpeechError(ErrSynthesisRequestFailed, "cloud", "synthesize stream").
		WithCause(fmt.Errorf("synthesis canceled: %s", o.ErrorDetails))
}

// IsCancellation reports whether err came from an intentional stop.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrInterrupted) ||
		errors.Is(err, context.Canceled)
}
