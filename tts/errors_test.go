package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestKindOf tests mapping of errors onto the taxonomy.
func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"configuration", ErrConfigurationMissing, KindConfigurationMissing},
		{"token", NewSpeechError(ErrTokenRequestFailed, "token", "fetch").WithStatus(500), KindTokenRequestFailed},
		{"synthesis wrapped", fmt.Errorf("speak: %w", ErrSynthesisRequestFailed), KindSynthesisRequestFailed},
		{"playback", ErrPlaybackFailed, KindPlaybackFailed},
		{"fallback exhausted", ErrFallbackExhausted, KindPlaybackFailed},
		{"user cancelled", ErrUserCancelled, KindUserCancelled},
		{"interrupted", ErrInterrupted, KindUserCancelled},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestErrorKindString tests the String() method for ErrorKind.
func TestErrorKindString(t *testing.T) {
	if KindTokenRequestFailed.String() != "TokenRequestFailed" {
		t.Errorf("unexpected kind string %q", KindTokenRequestFailed.String())
	}
	if ErrorKind(42).String() != "Unknown" {
		t.Errorf("unexpected kind string %q", ErrorKind(42).String())
	}
}

// TestIsRecoverableError tests which errors allow a local fallback.
func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"configuration missing", ErrConfigurationMissing, true},
		{"token failure", ErrTokenRequestFailed, true},
		{"synthesis failure", ErrSynthesisRequestFailed, true},
		{"cloud playback failure", ErrPlaybackFailed, true},
		{"user cancel", ErrUserCancelled, false},
		{"exhausted fallback", fmt.Errorf("local: %w", ErrFallbackExhausted), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverableError(tt.err); got != tt.want {
				t.Errorf("IsRecoverableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSpeechError tests the error wrapper.
func TestSpeechError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewSpeechError(ErrTokenRequestFailed, "token", "fetch").
		WithStatus(503).
		WithCause(cause)

	if !errors.Is(err, ErrTokenRequestFailed) {
		t.Error("expected errors.Is to match the sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match the cause")
	}

	msg := err.Error()
	for _, part := range []string{"token", "token request failed", "503", "connection refused"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	var se *SpeechError
	if !errors.As(fmt.Errorf("outer: %w", err), &se) {
		t.Fatal("expected errors.As to find SpeechError")
	}
	if se.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", se.StatusCode)
	}
	if se.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

// TestMessage tests the single human-readable message.
func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"token with status", NewSpeechError(ErrTokenRequestFailed, "token", "fetch").WithStatus(500), "Token request failed: 500"},
		{"synthesis", ErrSynthesisRequestFailed, "Failed to speak text"},
		{"cancel", ErrUserCancelled, ""},
		{"unknown", errors.New("disk on fire"), "disk on fire"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestSynthesisOutcomeErr tests conversion of stream outcomes.
func TestSynthesisOutcomeErr(t *testing.T) {
	if err := (SynthesisOutcome{Reason: ReasonCompleted}).Err(); err != nil {
		t.Errorf("completed outcome returned %v", err)
	}

	err := SynthesisOutcome{Reason: ReasonCanceled, CancelReason: CancelUser}.Err()
	if !errors.Is(err, ErrUserCancelled) || !IsCancellation(err) {
		t.Errorf("user cancel outcome returned %v", err)
	}

	err = SynthesisOutcome{Reason: ReasonCanceled, CancelReason: CancelError, ErrorDetails: "quota"}.Err()
	if !errors.Is(err, ErrSynthesisRequestFailed) {
		t.Errorf("error outcome returned %v", err)
	}
	if !strings.Contains(err.Error(), "synthesis canceled: quota") {
		t.Errorf("error outcome message %q", err.Error())
	}
	if IsCancellation(err) {
		t.Error("backend error must not count as cancellation")
	}
	if !IsCancellation(context.Canceled) {
		t.Error("context cancellation should count as cancellation")
	}
}
