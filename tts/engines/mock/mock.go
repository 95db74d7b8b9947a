// Package mock provides scriptable cloud and local engines for testing and
// for running without a speech backend.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/audio"
	"github.com/learntoreadsa/readaloud/tts/voices"
)

// SampleRate and Channels describe the PCM produced by Decode.
const (
	SampleRate = 24000
	Channels   = 2
)

// DefaultWordDuration is the simulated speaking time of one word.
const DefaultWordDuration = 300 * time.Millisecond

var audioPrefix = []byte("MOCKAUDIO:")

// EncodeAudio returns a payload that Decode turns into d of silence.
func EncodeAudio(d time.Duration) []byte {
	return append(append([]byte{}, audioPrefix...), strconv.FormatInt(d.Milliseconds(), 10)...)
}

// Decode converts a mock payload into a handle of silence. Anything else
// is decoded as MP3.
func Decode(data []byte) (*audio.Handle, error) {
	rest, ok := bytes.CutPrefix(data, audioPrefix)
	if !ok {
		return audio.DecodeMP3(data)
	}
	ms, err := strconv.ParseInt(string(rest), 10, 64)
	if err != nil || ms < 0 {
		return nil, tts.NewSpeechError(tts.ErrPlaybackFailed, "mock", "decode").
			WithCause(fmt.Errorf("invalid mock audio %q", rest))
	}
	frames := int(ms) * SampleRate / 1000
	return audio.NewHandle(make([]byte, frames*Channels*audio.BytesPerSample), SampleRate, Channels), nil
}

// Cloud implements tts.CloudSynthesizer, tts.StreamSynthesizer and
// tts.StatusChecker.
type Cloud struct {
	mu           sync.Mutex
	available    bool
	message      string
	delay        time.Duration
	wordDuration time.Duration
	failure      error
	streamError  string
	gate         chan struct{}

	calls       []tts.SynthesisRequest
	streamCalls []tts.StreamRequest
}

// NewCloud creates an available mock backend.
func NewCloud() *Cloud {
	return &Cloud{
		available:    true,
		message:      "Mock speech service",
		wordDuration: DefaultWordDuration,
	}
}

// Status reports the configured availability.
func (c *Cloud) Status(context.Context) tts.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tts.Status{Available: c.available, Message: c.message}
}

// Synthesize records the request and returns silence lasting one word
// duration per word.
func (c *Cloud) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	delay, failure, gate, wd := c.delay, c.failure, c.gate, c.wordDuration
	c.mu.Unlock()

	if err := wait(ctx, delay, gate); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, tts.NewSpeechError(tts.ErrSynthesisRequestFailed, "mock", "synthesize").
			WithStatus(400).WithCause(tts.ErrEmptyText)
	}
	voice := req.Voice
	if voice == "" {
		voice = voices.DefaultVoice(req.Language)
	}
	return &tts.SynthesisResult{
		Audio:    EncodeAudio(time.Duration(len(strings.Fields(text))) * wd),
		Format:   "audio/mp3",
		Voice:    voice,
		Language: voices.Locale(req.Language),
	}, nil
}

// SynthesizeStream emits one boundary per word of req.Text and settles
// with audio covering all of them.
func (c *Cloud) SynthesizeStream(ctx context.Context, req tts.StreamRequest) (*tts.SynthesisStream, error) {
	c.mu.Lock()
	c.streamCalls = append(c.streamCalls, req)
	delay, failure, streamErr, gate, wd := c.delay, c.failure, c.streamError, c.gate, c.wordDuration
	c.mu.Unlock()

	if failure != nil {
		return nil, failure
	}

	boundaries := make(chan tts.BoundaryEvent, 16)
	result := make(chan tts.SynthesisOutcome, 1)
	go func() {
		defer close(result)
		outcome := func() tts.SynthesisOutcome {
			defer close(boundaries)
			if err := wait(ctx, delay, gate); err != nil {
				return tts.SynthesisOutcome{Reason: tts.ReasonCanceled, CancelReason: tts.CancelUser}
			}
			words := wordOffsets(req.Text)
			for i, w := range words {
				ev := tts.BoundaryEvent{
					Text:             w.text,
					TextOffset:       w.offset,
					AudioOffsetTicks: int64(i) * wd.Milliseconds() * tts.TicksPerMillisecond,
					DurationTicks:    wd.Milliseconds() * tts.TicksPerMillisecond * 2 / 3,
				}
				select {
				case boundaries <- ev:
				case <-ctx.Done():
					return tts.SynthesisOutcome{Reason: tts.ReasonCanceled, CancelReason: tts.CancelUser}
				}
			}
			if streamErr != "" {
				return tts.SynthesisOutcome{Reason: tts.ReasonCanceled, CancelReason: tts.CancelError, ErrorDetails: streamErr}
			}
			return tts.SynthesisOutcome{
				Reason: tts.ReasonCompleted,
				Audio:  EncodeAudio(time.Duration(len(words)) * wd),
			}
		}()
		result <- outcome
	}()
	return &tts.SynthesisStream{Boundaries: boundaries, Result: result}, nil
}

type word struct {
	text   string
	offset int
}

// wordOffsets returns the whitespace-separated words and their rune offsets.
func wordOffsets(text string) []word {
	var out []word
	start := -1
	i := 0
	runes := []rune(text)
	for ; i <= len(runes); i++ {
		space := i == len(runes) || strings.ContainsRune(" \t\r\n", runes[i])
		switch {
		case space && start >= 0:
			out = append(out, word{text: string(runes[start:i]), offset: start})
			start = -1
		case !space && start < 0:
			start = i
		}
	}
	return out
}

// SetAvailable sets the status reported by Status.
func (c *Cloud) SetAvailable(available bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = available
	c.message = message
}

// SetDelay sets the simulated network latency.
func (c *Cloud) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetWordDuration sets the simulated speaking time of one word.
func (c *Cloud) SetWordDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wordDuration = d
}

// SetFailure makes every call fail with err.
func (c *Cloud) SetFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// SetStreamError makes streams settle as cancelled with details.
func (c *Cloud) SetStreamError(details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamError = details
}

// ClearFailure resets the backend to normal operation.
func (c *Cloud) ClearFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = nil
	c.streamError = ""
}

// Hold makes calls block until Release.
func (c *Cloud) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
}

// Release unblocks held calls.
func (c *Cloud) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Calls returns the synthesize requests received so far.
func (c *Cloud) Calls() []tts.SynthesisRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tts.SynthesisRequest(nil), c.calls...)
}

// CallCount returns the number of synthesize requests.
func (c *Cloud) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// StreamCalls returns the stream requests received so far.
func (c *Cloud) StreamCalls() []tts.StreamRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tts.StreamRequest(nil), c.streamCalls...)
}

func wait(ctx context.Context, delay time.Duration, gate <-chan struct{}) error {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Local implements tts.LocalEngine. Utterances take one word duration per
// word; Pause stops the clock.
type Local struct {
	mu           sync.Mutex
	available    bool
	voices       []tts.Voice
	wordDuration time.Duration
	failure      error

	speaking bool
	paused   bool
	cancel   chan struct{}

	calls   []string
	options []tts.LocalOptions
}

// NewLocal creates an available mock synthesizer with a few voices.
func NewLocal() *Local {
	return &Local{
		available:    true,
		wordDuration: 10 * time.Millisecond,
		voices: []tts.Voice{
			{Name: "english-za", Language: "en-ZA", Gender: "female", Provider: tts.ProviderLocal},
			{Name: "english-us", Language: "en-US", Gender: "male", Provider: tts.ProviderLocal},
			{Name: "zulu", Language: "zu", Gender: "female", Provider: tts.ProviderLocal},
			{Name: "afrikaans", Language: "af", Gender: "male", Provider: tts.ProviderLocal},
		},
	}
}

// Speak records the call and blocks for the simulated duration.
func (l *Local) Speak(ctx context.Context, text string, opts tts.LocalOptions) error {
	l.mu.Lock()
	l.calls = append(l.calls, text)
	l.options = append(l.options, opts)
	if l.failure != nil {
		err := l.failure
		l.mu.Unlock()
		return err
	}
	if l.speaking {
		l.mu.Unlock()
		return tts.ErrInvalidState
	}
	cancel := make(chan struct{})
	l.speaking, l.paused, l.cancel = true, false, cancel
	remaining := time.Duration(len(strings.Fields(text))) * l.wordDuration
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.speaking, l.paused, l.cancel = false, false, nil
		l.mu.Unlock()
	}()

	const tick = 2 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return tts.ErrInterrupted
		case <-cancel:
			return tts.ErrInterrupted
		case <-ticker.C:
			l.mu.Lock()
			if !l.paused {
				remaining -= tick
			}
			l.mu.Unlock()
		}
	}
	return nil
}

// Pause stops the clock of the current utterance.
func (l *Local) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.speaking {
		return tts.ErrInvalidState
	}
	l.paused = true
	return nil
}

// Resume restarts the clock of the current utterance.
func (l *Local) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.speaking {
		return tts.ErrInvalidState
	}
	l.paused = false
	return nil
}

// Cancel interrupts the current utterance, if any.
func (l *Local) Cancel() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		close(l.cancel)
		l.cancel = nil
	}
	return nil
}

// Voices returns the configured voices.
func (l *Local) Voices(context.Context) ([]tts.Voice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tts.Voice(nil), l.voices...), nil
}

// IsAvailable returns the configured availability.
func (l *Local) IsAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// SetAvailable sets the availability.
func (l *Local) SetAvailable(available bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = available
}

// SetVoices replaces the installed voices.
func (l *Local) SetVoices(v []tts.Voice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.voices = v
}

// SetWordDuration sets the simulated speaking time of one word.
func (l *Local) SetWordDuration(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wordDuration = d
}

// SetFailure makes Speak fail with err.
func (l *Local) SetFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failure = err
}

// Calls returns the texts spoken so far.
func (l *Local) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Options returns the options of each Speak call.
func (l *Local) Options() []tts.LocalOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tts.LocalOptions(nil), l.options...)
}

// Speaking reports whether an utterance is in progress.
func (l *Local) Speaking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speaking
}
