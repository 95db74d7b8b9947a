//go:build !nocgo

package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/learntoreadsa/readaloud/tts"
)

// pollInterval is how often playback completion is checked.
const pollInterval = 10 * time.Millisecond

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func otoContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			otoErr = fmt.Errorf("audio context not ready after 5s")
			return
		}
		otoCtx, otoRate = ctx, sampleRate
		log.Debug("audio context ready", "sample_rate", sampleRate, "channels", channels)
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if sampleRate != otoRate {
		return nil, fmt.Errorf("sample rate %d does not match audio context rate %d", sampleRate, otoRate)
	}
	return otoCtx, nil
}

// OtoPlayer plays handles through the system audio device.
type OtoPlayer struct {
	mu      sync.Mutex
	current *oto.Player
	tracker *positionTracker
	handle  *Handle
	stopCh  chan struct{}
	paused  bool
}

// NewOtoPlayer creates a player. The audio device is opened on first use.
func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{}
}

// Play implements Player.
func (p *OtoPlayer) Play(ctx context.Context, h *Handle) error {
	r, err := h.Reader()
	if err != nil {
		return err
	}
	octx, err := otoContext(h.SampleRate(), h.Channels())
	if err != nil {
		return tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "open device").WithCause(err)
	}

	tracker := &positionTracker{r: r}
	player := octx.NewPlayer(tracker)
	stopCh := make(chan struct{})

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		_ = player.Close()
		return tts.NewSpeechError(tts.ErrInvalidState, "audio", "play").
			WithCause(fmt.Errorf("already playing"))
	}
	p.current, p.tracker, p.handle, p.stopCh, p.paused = player, tracker, h, stopCh, false
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.current, p.tracker, p.handle, p.stopCh, p.paused = nil, nil, nil, nil, false
		p.mu.Unlock()
		_ = player.Close()
	}()

	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return tts.ErrInterrupted
		case <-stopCh:
			player.Pause()
			return tts.ErrInterrupted
		case <-ticker.C:
			if err := player.Err(); err != nil {
				return tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "play").WithCause(err)
			}
			p.mu.Lock()
			paused := p.paused
			p.mu.Unlock()
			if !paused && !player.IsPlaying() {
				return nil
			}
		}
	}
}

// Pause implements Player.
func (p *OtoPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.paused {
		return tts.ErrInvalidState
	}
	p.current.Pause()
	p.paused = true
	return nil
}

// Resume implements Player.
func (p *OtoPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || !p.paused {
		return tts.ErrInvalidState
	}
	p.current.Play()
	p.paused = false
	return nil
}

// Stop implements Player.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	return nil
}

// Position implements Player.
func (p *OtoPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	played := p.tracker.read.Load() - int64(p.current.BufferedSize())
	if played < 0 {
		played = 0
	}
	return BytesToDuration(played, p.handle.SampleRate(), p.handle.Channels())
}
