package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
)

type staticStatus tts.Status

func (s staticStatus) Status(context.Context) tts.Status { return tts.Status(s) }

var (
	cloudVoice = &tts.Voice{Name: "en-ZA-LeahNeural", Language: "en", Provider: tts.ProviderCloud}
	localVoice = &tts.Voice{Name: "english", Language: "en-ZA", Provider: tts.ProviderLocal}
)

func TestShouldUseCloud(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		hasVoices bool
		selected  *tts.Voice
		want      bool
	}{
		{"all conditions hold", true, true, cloudVoice, true},
		{"cloud unavailable", false, true, cloudVoice, false},
		{"language without cloud voices", true, false, cloudVoice, false},
		{"local voice selected", true, true, localVoice, false},
		{"no voice selected", true, true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldUseCloud(tt.available, tt.hasVoices, tt.selected))
		})
	}
}

func TestProbeAndChoose(t *testing.T) {
	s := NewSelector(nil, nil)
	assert.False(t, s.CloudAvailable())
	assert.Equal(t, tts.ProviderLocal, s.Choose("en", cloudVoice))

	require.True(t, s.Probe(context.Background(), staticStatus{Available: true, Message: "configured"}))
	assert.Equal(t, tts.ProviderCloud, s.Active())
	assert.Equal(t, tts.ProviderCloud, s.Choose("en", cloudVoice))
	assert.Equal(t, tts.ProviderLocal, s.Choose("ha", cloudVoice))
	assert.Equal(t, tts.ProviderLocal, s.Choose("en", localVoice))

	assert.False(t, s.Probe(context.Background(), staticStatus{Message: "not configured"}))
	assert.Equal(t, "not configured", s.StatusMessage())
	assert.False(t, s.Probe(context.Background(), nil))
}

func TestRunCloudSuccess(t *testing.T) {
	s := NewSelector(nil, nil)
	localCalls := 0

	used, err := s.Run(context.Background(), true,
		func(context.Context) error { return nil },
		func(context.Context) error { localCalls++; return nil })

	require.NoError(t, err)
	assert.Equal(t, tts.ProviderCloud, used.Provider)
	assert.False(t, used.Rerouted())
	assert.Equal(t, tts.ProviderCloud, s.Active())
	assert.Zero(t, localCalls)
}

func TestRunFallsBackOnce(t *testing.T) {
	s := NewSelector(nil, nil)
	localCalls := 0

	cloudErr := tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "cloud", "synthesize").WithStatus(500)
	used, err := s.Run(context.Background(), true,
		func(context.Context) error { return cloudErr },
		func(context.Context) error { localCalls++; return nil })

	require.NoError(t, err)
	assert.Equal(t, tts.ProviderLocal, used.Provider)
	assert.True(t, used.Rerouted())
	assert.ErrorIs(t, used.CloudErr, tts.ErrSynthesisRequestFailed)
	assert.Equal(t, tts.ProviderLocal, s.Active())
	assert.Equal(t, 1, localCalls)
}

func TestRunLocalFailureIsTerminal(t *testing.T) {
	s := NewSelector(nil, nil)
	localCalls := 0
	cloudErr := tts.NewSpeechError(tts.ErrTokenRequestFailed, "token", "fetch").WithStatus(401)
	localErr := tts.NewSpeechError(tts.ErrPlaybackFailed, "local", "speak")

	used, err := s.Run(context.Background(), true,
		func(context.Context) error { return cloudErr },
		func(context.Context) error { localCalls++; return localErr })

	require.Error(t, err)
	assert.True(t, used.Rerouted())
	assert.Equal(t, 1, localCalls)
	assert.True(t, IsFallbackExhausted(err))
	assert.ErrorIs(t, err, tts.ErrPlaybackFailed)
	assert.ErrorIs(t, err, tts.ErrTokenRequestFailed)
	assert.False(t, tts.IsRecoverableError(err))
}

func TestRunDoesNotRerouteExhaustedOrCancelled(t *testing.T) {
	tests := []struct {
		name     string
		cloudErr error
	}{
		{"already exhausted", tts.ErrFallbackExhausted},
		{"user cancelled", tts.ErrUserCancelled},
		{"context cancelled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(nil, nil)
			localCalls := 0
			_, err := s.Run(context.Background(), true,
				func(context.Context) error { return tt.cloudErr },
				func(context.Context) error { localCalls++; return nil })
			assert.True(t, errors.Is(err, tt.cloudErr))
			assert.Zero(t, localCalls)
		})
	}
}

func TestRunLocalOnly(t *testing.T) {
	s := NewSelector(nil, nil)
	cloudCalls := 0
	localErr := errors.New("no synthesizer")

	used, err := s.Run(context.Background(), false,
		func(context.Context) error { cloudCalls++; return nil },
		func(context.Context) error { return localErr })

	assert.Equal(t, tts.ProviderLocal, used.Provider)
	assert.False(t, used.Rerouted())
	assert.ErrorIs(t, err, localErr)
	assert.False(t, IsFallbackExhausted(err), "no fallback happened")
	assert.Zero(t, cloudCalls)
}
