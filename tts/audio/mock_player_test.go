package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
)

var _ Player = (*MockPlayer)(nil)

func TestMockPlayerPlaysToCompletion(t *testing.T) {
	mp := NewMockPlayer()
	mp.SetSpeedMultiplier(10)
	h := NewHandle(silence(200*time.Millisecond), 24000, 2)

	start := time.Now()
	require.NoError(t, mp.Play(context.Background(), h))
	assert.Less(t, time.Since(start), time.Second)

	history := mp.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "play", history[0].Type)
	assert.Equal(t, "complete", history[1].Type)
	assert.Equal(t, []*Handle{h}, mp.Played())
	assert.False(t, mp.IsPlaying())
}

func TestMockPlayerStop(t *testing.T) {
	mp := NewMockPlayer()
	mp.SetHold(true)
	h := NewHandle(silence(10*time.Millisecond), 24000, 2)

	done := make(chan error, 1)
	go func() { done <- mp.Play(context.Background(), h) }()
	require.NoError(t, mp.WaitForPlaying(time.Second))

	require.NoError(t, mp.Stop())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, tts.ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Stop")
	}

	assert.NoError(t, mp.Stop(), "stopping an idle player is a no-op")
}

func TestMockPlayerContextCancel(t *testing.T) {
	mp := NewMockPlayer()
	mp.SetHold(true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mp.Play(ctx, NewHandle(silence(time.Millisecond), 24000, 2)) }()
	require.NoError(t, mp.WaitForPlaying(time.Second))
	cancel()

	assert.ErrorIs(t, <-done, tts.ErrInterrupted)
}

func TestMockPlayerPauseResume(t *testing.T) {
	mp := NewMockPlayer()
	mp.SetHold(true)

	assert.Error(t, mp.Pause(), "pause requires playback")

	done := make(chan error, 1)
	go func() { done <- mp.Play(context.Background(), NewHandle(silence(time.Millisecond), 24000, 2)) }()
	require.NoError(t, mp.WaitForPlaying(time.Second))

	require.NoError(t, mp.Pause())
	assert.Error(t, mp.Pause(), "already paused")
	frozen := mp.Position()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, mp.Position(), "position is frozen while paused")

	require.NoError(t, mp.Resume())
	assert.Error(t, mp.Resume(), "not paused")

	mp.SimulateCompletion()
	assert.NoError(t, <-done)
}

func TestMockPlayerRefusesReleasedHandle(t *testing.T) {
	mp := NewMockPlayer()
	h := NewHandle(silence(time.Millisecond), 24000, 2)
	h.Release()

	assert.ErrorIs(t, mp.Play(context.Background(), h), tts.ErrHandleReleased)
	assert.Empty(t, mp.Played())
}

func TestMockPlayerInjectError(t *testing.T) {
	mp := NewMockPlayer()
	mp.InjectError("play", tts.ErrPlaybackFailed)

	err := mp.Play(context.Background(), NewHandle(silence(time.Millisecond), 24000, 2))
	assert.ErrorIs(t, err, tts.ErrPlaybackFailed)

	mp.ClearErrors()
	assert.NoError(t, mp.Play(context.Background(), NewHandle(silence(time.Millisecond), 24000, 2)))
}
