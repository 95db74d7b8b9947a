package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/learntoreadsa/readaloud/tts"
)

// MockPlayer implements Player for testing. It simulates playback timing
// from the handle's duration without producing sound.
type MockPlayer struct {
	mu sync.Mutex

	// Current playback
	handle    *Handle
	duration  time.Duration
	startTime time.Time
	pauseTime time.Time
	pausedDur time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}

	// Test control
	tickInterval    time.Duration
	speedMultiplier float64
	hold            bool // play until SimulateCompletion or Stop
	callbacks       MockCallbacks
	history         []PlaybackEvent
	played          []*Handle

	// Error injection for testing
	playError   error
	pauseError  error
	resumeError error
}

// MockCallbacks holds callback functions for testing.
type MockCallbacks struct {
	OnPlay   func(h *Handle)
	OnPause  func()
	OnResume func()
	OnStop   func()
}

// PlaybackEvent records an event for testing verification.
type PlaybackEvent struct {
	Type      string
	Timestamp time.Time
	Position  time.Duration
}

// NewMockPlayer creates a new mock audio player for testing.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{
		tickInterval:    time.Millisecond,
		speedMultiplier: 1.0,
	}
}

// Play implements Player.
func (mp *MockPlayer) Play(ctx context.Context, h *Handle) error {
	if _, err := h.Reader(); err != nil {
		return err
	}

	mp.mu.Lock()
	if mp.playError != nil {
		err := mp.playError
		mp.mu.Unlock()
		return err
	}
	if mp.stopCh != nil {
		mp.mu.Unlock()
		return errors.New("already playing")
	}
	mp.handle = h
	mp.duration = h.Duration()
	mp.startTime = time.Now()
	mp.pauseTime = time.Time{}
	mp.pausedDur = 0
	mp.stopCh = make(chan struct{})
	mp.doneCh = make(chan struct{})
	mp.played = append(mp.played, h)
	mp.recordEvent("play")
	stopCh, doneCh := mp.stopCh, mp.doneCh
	onPlay := mp.callbacks.OnPlay
	mp.mu.Unlock()

	if onPlay != nil {
		onPlay(h)
	}

	defer mp.finish()

	ticker := time.NewTicker(mp.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mp.event("stop")
			return tts.ErrInterrupted
		case <-stopCh:
			return tts.ErrInterrupted
		case <-doneCh:
			mp.event("complete")
			return nil
		case <-ticker.C:
			mp.mu.Lock()
			finished := !mp.hold && mp.pauseTime.IsZero() && mp.positionLocked() >= mp.duration
			mp.mu.Unlock()
			if finished {
				mp.event("complete")
				return nil
			}
		}
	}
}

func (mp *MockPlayer) finish() {
	mp.mu.Lock()
	mp.handle = nil
	mp.stopCh = nil
	mp.doneCh = nil
	mp.mu.Unlock()
}

// Pause implements Player.
func (mp *MockPlayer) Pause() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.pauseError != nil {
		return mp.pauseError
	}
	if mp.stopCh == nil {
		return errors.New("not playing")
	}
	if !mp.pauseTime.IsZero() {
		return errors.New("already paused")
	}
	mp.pauseTime = time.Now()
	mp.recordEvent("pause")
	if mp.callbacks.OnPause != nil {
		go mp.callbacks.OnPause()
	}
	return nil
}

// Resume implements Player.
func (mp *MockPlayer) Resume() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.resumeError != nil {
		return mp.resumeError
	}
	if mp.pauseTime.IsZero() {
		return errors.New("not paused")
	}
	mp.pausedDur += time.Since(mp.pauseTime)
	mp.pauseTime = time.Time{}
	mp.recordEvent("resume")
	if mp.callbacks.OnResume != nil {
		go mp.callbacks.OnResume()
	}
	return nil
}

// Stop implements Player.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.stopCh == nil {
		return nil // Already stopped
	}
	close(mp.stopCh)
	mp.stopCh = make(chan struct{}) // Keep "playing" until Play returns
	mp.recordEvent("stop")
	if mp.callbacks.OnStop != nil {
		go mp.callbacks.OnStop()
	}
	return nil
}

// Position implements Player.
func (mp *MockPlayer) Position() time.Duration {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.handle == nil {
		return 0
	}
	return mp.positionLocked()
}

func (mp *MockPlayer) positionLocked() time.Duration {
	if mp.startTime.IsZero() {
		return 0
	}
	end := time.Now()
	if !mp.pauseTime.IsZero() {
		end = mp.pauseTime
	}
	pos := time.Duration(float64(end.Sub(mp.startTime)-mp.pausedDur) * mp.speedMultiplier)
	if !mp.hold && pos > mp.duration {
		pos = mp.duration
	}
	return pos
}

func (mp *MockPlayer) event(eventType string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.recordEvent(eventType)
}

// recordEvent records a playback event. Callers hold mu.
func (mp *MockPlayer) recordEvent(eventType string) {
	mp.history = append(mp.history, PlaybackEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Position:  mp.positionLocked(),
	})
}

// Test Control Methods

// SetSpeedMultiplier sets the playback speed multiplier for testing.
// 1.0 = normal speed, 2.0 = double speed, 0.5 = half speed.
func (mp *MockPlayer) SetSpeedMultiplier(multiplier float64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if multiplier <= 0 {
		multiplier = 1.0
	}
	mp.speedMultiplier = multiplier
}

// SetHold makes Play block until SimulateCompletion, Stop or cancellation.
func (mp *MockPlayer) SetHold(hold bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.hold = hold
}

// SetCallbacks sets the test callbacks.
func (mp *MockPlayer) SetCallbacks(callbacks MockCallbacks) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.callbacks = callbacks
}

// GetHistory returns a copy of the playback event history.
func (mp *MockPlayer) GetHistory() []PlaybackEvent {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	history := make([]PlaybackEvent, len(mp.history))
	copy(history, mp.history)
	return history
}

// Played returns every handle passed to Play.
func (mp *MockPlayer) Played() []*Handle {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	played := make([]*Handle, len(mp.played))
	copy(played, mp.played)
	return played
}

// IsPlaying reports whether Play is in progress.
func (mp *MockPlayer) IsPlaying() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.handle != nil
}

// InjectError injects an error for testing specific error conditions.
func (mp *MockPlayer) InjectError(method string, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	switch method {
	case "play":
		mp.playError = err
	case "pause":
		mp.pauseError = err
	case "resume":
		mp.resumeError = err
	}
}

// ClearErrors clears all injected errors.
func (mp *MockPlayer) ClearErrors() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.playError = nil
	mp.pauseError = nil
	mp.resumeError = nil
}

// WaitForPlaying waits until Play has started or the timeout elapses.
func (mp *MockPlayer) WaitForPlaying(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return errors.New("timeout waiting for playback")
		case <-ticker.C:
			if mp.IsPlaying() {
				return nil
			}
		}
	}
}

// SimulateCompletion ends the current playback as if it had finished.
func (mp *MockPlayer) SimulateCompletion() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.doneCh != nil {
		select {
		case <-mp.doneCh:
		default:
			close(mp.doneCh)
		}
	}
}
