//go:build nocgo

package audio

import (
	"context"
	"errors"
	"time"

	"github.com/learntoreadsa/readaloud/tts"
)

var errNoAudio = errors.New("audio not available in nocgo build")

// OtoPlayer is unavailable without cgo.
type OtoPlayer struct{}

// NewOtoPlayer returns a player whose Play always fails.
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

// Play implements Player.
func (p *OtoPlayer) Play(context.Context, *Handle) error {
	return tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "open device").WithCause(errNoAudio)
}

// Pause implements Player.
func (p *OtoPlayer) Pause() error { return errNoAudio }

// Resume implements Player.
func (p *OtoPlayer) Resume() error { return errNoAudio }

// Stop implements Player.
func (p *OtoPlayer) Stop() error { return nil }

// Position implements Player.
func (p *OtoPlayer) Position() time.Duration { return 0 }
