package audio

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// Player plays audio handles one at a time.
type Player interface {
	// Play blocks until h has finished playing. It returns
	// tts.ErrInterrupted when Stop or ctx ended playback early.
	Play(ctx context.Context, h *Handle) error

	// Pause suspends playback.
	Pause() error

	// Resume continues paused playback.
	Resume() error

	// Stop ends playback. Stopping an idle player is a no-op.
	Stop() error

	// Position returns how far playback has progressed.
	Position() time.Duration
}

// positionTracker counts bytes handed to the audio device.
type positionTracker struct {
	r    io.Reader
	read atomic.Int64
}

func (t *positionTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.read.Add(int64(n))
	return n, err
}
