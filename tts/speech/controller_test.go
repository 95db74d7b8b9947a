package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	"github.com/learntoreadsa/readaloud/tts/engines/mock"
)

// leaseSet counts outstanding leases per handle.
type leaseSet map[*audio.Handle]int

func (l leaseSet) Leased(h *audio.Handle) bool { return l[h] > 0 }
func (l leaseSet) Return(h *audio.Handle)      { l[h]-- }

func silence(d time.Duration) *audio.Handle {
	h, err := mock.Decode(mock.EncodeAudio(d))
	if err != nil {
		panic(err)
	}
	return h
}

func TestControllerReturnsLeasedHandles(t *testing.T) {
	player := audio.NewMockPlayer()
	player.SetSpeedMultiplier(10)
	cached := silence(20 * time.Millisecond)
	leases := leaseSet{cached: 1}
	c := NewController(player, nil, leases, nil)

	for _, h := range []*audio.Handle{cached, silence(20 * time.Millisecond)} {
		s, err := c.Begin(context.Background())
		require.NoError(t, err)
		require.NoError(t, c.PlayHandle(s, h, nil, nil))
		c.End(s)
	}

	played := player.Played()
	require.Len(t, played, 2)
	assert.False(t, played[0].Released())
	assert.Zero(t, leases[cached], "the lease is handed back")
	assert.True(t, played[1].Released())
	assert.Equal(t, tts.StateIdle, c.State())
}

func TestControllerStopReturnsLeasedHandle(t *testing.T) {
	player := audio.NewMockPlayer()
	player.SetHold(true)
	cached := silence(time.Second)
	leases := leaseSet{cached: 1}
	c := NewController(player, nil, leases, nil)

	s, err := c.Begin(context.Background())
	require.NoError(t, err)
	result := make(chan error, 1)
	go func() { result <- c.PlayHandle(s, cached, nil, nil) }()
	require.NoError(t, player.WaitForPlaying(time.Second))

	c.Stop()
	require.ErrorIs(t, <-result, tts.ErrUserCancelled)
	c.End(s)

	assert.False(t, cached.Released(), "stop leaves leased audio to its lender")
	assert.Zero(t, leases[cached])
}

func TestControllerStopBeforePlayback(t *testing.T) {
	player := audio.NewMockPlayer()
	c := NewController(player, mock.NewLocal(), nil, nil)

	s, err := c.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tts.StateLoading, c.State())

	c.Stop()
	assert.True(t, s.Cancelled())
	assert.Error(t, s.Context().Err())
	assert.Equal(t, tts.StateIdle, c.State())

	h := silence(10 * time.Millisecond)
	assert.ErrorIs(t, c.PlayHandle(s, h, nil, nil), tts.ErrUserCancelled)
	assert.True(t, h.Released(), "audio arriving after a stop is released")
	assert.ErrorIs(t, c.PlayLocal(s, "late", tts.LocalOptions{}), tts.ErrUserCancelled)
	assert.Empty(t, player.Played())

	c.End(s)
	assert.Equal(t, tts.StateIdle, c.State())
}

func TestControllerBeginWaitsForPrevious(t *testing.T) {
	player := audio.NewMockPlayer()
	player.SetHold(true)
	c := NewController(player, nil, nil, nil)

	first, err := c.Begin(context.Background())
	require.NoError(t, err)
	result := make(chan error, 1)
	go func() {
		err := c.PlayHandle(first, silence(time.Second), nil, nil)
		c.End(first)
		result <- err
	}()
	require.NoError(t, player.WaitForPlaying(time.Second))

	second, err := c.Begin(context.Background())
	require.NoError(t, err)

	select {
	case <-first.Done():
	default:
		t.Fatal("Begin returned before the previous session settled")
	}
	assert.ErrorIs(t, <-result, tts.ErrUserCancelled)
	assert.Equal(t, tts.StateLoading, c.State())
	c.End(second)
}

func TestControllerLocalFallbackAfterPlayback(t *testing.T) {
	player := audio.NewMockPlayer()
	player.InjectError("play", errors.New("device lost"))
	local := mock.NewLocal()
	c := NewController(player, local, nil, nil)

	var states []tts.StateType
	c.OnStateChange(func(_, to tts.StateType) { states = append(states, to) })

	s, err := c.Begin(context.Background())
	require.NoError(t, err)
	err = c.PlayHandle(s, silence(10*time.Millisecond), nil, nil)
	require.ErrorIs(t, err, tts.ErrPlaybackFailed)

	require.NoError(t, c.PlayLocal(s, "hello", tts.LocalOptions{}))
	c.End(s)

	assert.Equal(t, []tts.StateType{
		tts.StateLoading, tts.StatePlaying, tts.StateLoading, tts.StatePlaying, tts.StateIdle,
	}, states)
}

func TestControllerPlayLocalWithoutEngine(t *testing.T) {
	c := NewController(audio.NewMockPlayer(), nil, nil, nil)
	s, err := c.Begin(context.Background())
	require.NoError(t, err)
	defer c.End(s)

	assert.ErrorIs(t, c.PlayLocal(s, "hello", tts.LocalOptions{}), tts.ErrConfigurationMissing)
}
