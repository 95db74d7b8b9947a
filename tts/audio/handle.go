// Package audio provides playable audio resources and players.
package audio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/learntoreadsa/readaloud/tts"
)

// BytesPerSample is the size of one signed 16-bit little-endian sample.
const BytesPerSample = 2

// Handle is a decoded, playable audio resource. Once released it refuses
// playback.
type Handle struct {
	mu         sync.RWMutex
	pcm        []byte
	sampleRate int
	channels   int
	released   bool
}

// NewHandle wraps signed 16-bit little-endian PCM.
func NewHandle(pcm []byte, sampleRate, channels int) *Handle {
	return &Handle{pcm: pcm, sampleRate: sampleRate, channels: channels}
}

// SampleRate returns the sample rate in Hz.
func (h *Handle) SampleRate() int { return h.sampleRate }

// Channels returns the channel count.
func (h *Handle) Channels() int { return h.channels }

// Size returns the PCM size in bytes, zero once released.
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pcm)
}

// Duration returns the playback length.
func (h *Handle) Duration() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return BytesToDuration(int64(len(h.pcm)), h.sampleRate, h.channels)
}

// Reader returns a fresh reader over the PCM data.
func (h *Handle) Reader() (io.Reader, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, tts.ErrHandleReleased
	}
	return bytes.NewReader(h.pcm), nil
}

// Release frees the PCM data. It is safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.pcm = nil
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// BytesToDuration converts a PCM byte count to playback time.
func BytesToDuration(n int64, sampleRate, channels int) time.Duration {
	frame := int64(channels * BytesPerSample)
	if sampleRate <= 0 || frame <= 0 {
		return 0
	}
	return time.Duration(n / frame * int64(time.Second) / int64(sampleRate))
}

// DecodeMP3 decodes MP3 data into a playable handle. The decoder always
// produces stereo 16-bit samples.
func DecodeMP3(data []byte) (*Handle, error) {
	if len(data) == 0 {
		return nil, tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "decode").
			WithCause(fmt.Errorf("empty audio"))
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "decode").WithCause(err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "decode").WithCause(err)
	}

	return NewHandle(pcm, dec.SampleRate(), 2), nil
}

// DecodeBase64MP3 decodes a base64 MP3 payload into a playable handle.
func DecodeBase64MP3(payload string) (*Handle, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, tts.NewSpeechError(tts.ErrPlaybackFailed, "audio", "decode").WithCause(err)
	}
	return DecodeMP3(data)
}
