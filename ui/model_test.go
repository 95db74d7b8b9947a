package ui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learntoreadsa/readaloud/tts"
)

type fakeSpeaker struct {
	mu         sync.Mutex
	spoken     []tts.SpeakOptions
	prefetched [][]string
	prosody    [][2]float64
	paused     int
	resumed    int
	stopped    int
	err        error
	onState    func(from, to tts.StateType)
}

func (f *fakeSpeaker) Speak(_ context.Context, opts tts.SpeakOptions) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, opts)
	err := f.err
	f.mu.Unlock()

	if opts.OnWordBoundary != nil {
		for i, w := range strings.Fields(opts.Text) {
			opts.OnWordBoundary(tts.WordBoundary{WordIndex: i, Word: w})
		}
	}
	return err
}

func (f *fakeSpeaker) Stop()         { f.mu.Lock(); f.stopped++; f.mu.Unlock() }
func (f *fakeSpeaker) Pause() error  { f.paused++; return nil }
func (f *fakeSpeaker) Resume() error { f.resumed++; return nil }

func (f *fakeSpeaker) Prefetch(words []string, _ int) {
	f.prefetched = append(f.prefetched, words)
}

func (f *fakeSpeaker) SetProsody(rate, pitch float64) {
	f.prosody = append(f.prosody, [2]float64{rate, pitch})
}

func (f *fakeSpeaker) OnStateChange(fn func(from, to tts.StateType)) { f.onState = fn }

func (f *fakeSpeaker) SelectedVoice() (tts.Voice, bool) {
	return tts.Voice{Name: "en-ZA-LeahNeural", Provider: tts.ProviderCloud}, true
}

func (f *fakeSpeaker) ActiveProvider() tts.ProviderKind { return tts.ProviderCloud }

func newTestModel(t *testing.T, cfg Config) (Model, *fakeSpeaker) {
	t.Helper()
	f := &fakeSpeaker{}
	m := NewModel(context.Background(), cfg, f, catLesson)
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, f
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// drainWords feeds every queued word event into the model.
func drainWords(t *testing.T, m Model) Model {
	t.Helper()
	for {
		select {
		case msg := <-m.events:
			m = update(t, m, msg)
		default:
			return m
		}
	}
}

func TestModelReadsAndAdvances(t *testing.T) {
	m, f := newTestModel(t, Config{AutoAdvance: true, Prefetch: true})

	m, cmd := press(t, m, " ")
	require.NotNil(t, cmd)
	assert.True(t, m.playing)
	assert.Equal(t, [][]string{{"The", "cat", "sat", "on", "the", "mat."}}, f.prefetched)

	done := cmd()
	require.Len(t, f.spoken, 1)
	assert.Equal(t, "The Cat", f.spoken[0].Text)
	assert.Equal(t, tts.DefaultRate, f.spoken[0].Rate)

	m = drainWords(t, m)
	assert.Equal(t, 1, m.word)

	next, cmd := m.Update(done)
	m = next.(Model)
	require.NotNil(t, cmd, "a finished sentence starts the next one")
	assert.Equal(t, 1, m.current)
	assert.Equal(t, -1, m.word)

	cmd()
	require.Len(t, f.spoken, 2)
	assert.Equal(t, "The cat sat on the mat.", f.spoken[1].Text)
}

func TestModelStopsAtLastSentence(t *testing.T) {
	m, _ := newTestModel(t, Config{AutoAdvance: true})
	m.current = 3

	m, cmd := press(t, m, " ")
	next, cmd := m.Update(cmd())
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.playing)
	assert.Equal(t, 3, m.current)
}

func TestModelIgnoresStaleEvents(t *testing.T) {
	m, f := newTestModel(t, Config{AutoAdvance: true})

	m, first := press(t, m, " ")
	m, second := press(t, m, "n")
	require.NotNil(t, second)
	assert.Equal(t, 1, m.current)

	// The first sentence finishing late neither advances nor highlights.
	stale := first()
	m = drainWords(t, m)
	assert.Equal(t, -1, m.word)
	next, cmd := m.Update(stale)
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, m.current)
	assert.Len(t, f.spoken, 1)
}

func TestModelStop(t *testing.T) {
	m, f := newTestModel(t, Config{AutoAdvance: true})

	m, cmd := press(t, m, " ")
	m, _ = press(t, m, "s")
	assert.Equal(t, 1, f.stopped)
	assert.False(t, m.playing)

	next, advance := m.Update(cmd())
	assert.Nil(t, advance)
	assert.Equal(t, 0, next.(Model).current)
}

func TestModelPauseResume(t *testing.T) {
	m, f := newTestModel(t, Config{})

	f.onState(tts.StateLoading, tts.StatePlaying)
	m = drainWords(t, m)
	assert.Equal(t, tts.StatePlaying, m.state)

	m, _ = press(t, m, " ")
	assert.Equal(t, 1, f.paused)

	m = update(t, m, stateMsg{from: tts.StatePlaying, to: tts.StatePaused})
	m, _ = press(t, m, " ")
	assert.Equal(t, 1, f.resumed)
	assert.Empty(t, f.spoken)
}

func TestModelSayWord(t *testing.T) {
	m, f := newTestModel(t, Config{})
	m, _ = press(t, m, "n")
	m, _ = press(t, m, "l")
	m, _ = press(t, m, "l")
	assert.Equal(t, 1, m.word)

	m, cmd := press(t, m, "enter")
	require.NotNil(t, cmd)
	cmd()
	require.Len(t, f.spoken, 1)
	assert.Equal(t, "cat", f.spoken[0].Text)
	assert.Nil(t, f.spoken[0].OnWordBoundary, "single words are spoken from the cache")
	assert.False(t, m.playing)

	m, _ = press(t, m, "h")
	m, _ = press(t, m, "h")
	assert.Equal(t, 0, m.word)
}

func TestModelSpeedKeys(t *testing.T) {
	m, f := newTestModel(t, Config{Rate: 1, Pitch: 1.1})
	m, _ = press(t, m, "+")
	m, _ = press(t, m, "-")
	m, _ = press(t, m, "-")
	assert.Equal(t, [][2]float64{{1.25, 1.1}, {1, 1.1}, {0.85, 1.1}}, f.prosody)
	assert.Contains(t, m.View(), "0.85x")
}

func TestModelSettingsChanged(t *testing.T) {
	m, _ := newTestModel(t, Config{})
	m = update(t, m, SettingsChangedMsg{Rate: 1.5})
	assert.Equal(t, 1.5, m.speed.rate)
	assert.Equal(t, tts.DefaultPitch, m.pitch)

	m = update(t, m, SettingsChangedMsg{Pitch: 3})
	assert.Equal(t, 1.5, m.speed.rate)
	assert.Equal(t, tts.MaxProsody, m.pitch)
}

func TestModelShowsErrors(t *testing.T) {
	m, f := newTestModel(t, Config{})
	f.err = tts.NewSpeechError(tts.ErrFallbackExhausted, "speech", "speak")

	m, cmd := press(t, m, " ")
	m = update(t, m, cmd())
	assert.NotEmpty(t, m.err)
	assert.False(t, m.playing)
	assert.Contains(t, m.View(), "✗ error")

	// Starting again clears the error.
	f.err = nil
	m, _ = press(t, m, " ")
	assert.Empty(t, m.err)
}

func TestModelQuit(t *testing.T) {
	m, f := newTestModel(t, Config{})
	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, 1, f.stopped)
}

func TestModelAutoPlay(t *testing.T) {
	m, f := newTestModel(t, Config{AutoPlay: true})
	m = update(t, m, autoPlayMsg{})
	assert.True(t, m.playing)
	assert.Equal(t, 0, m.current)
	assert.Empty(t, f.spoken, "speech runs in the returned command")
}

func TestModelView(t *testing.T) {
	m, _ := newTestModel(t, Config{Path: "/lessons/cat.md"})
	view := m.View()
	assert.Contains(t, view, "cat.md")
	assert.Contains(t, view, "en-ZA-LeahNeural")
	assert.Contains(t, view, "1/4")

	before := NewModel(context.Background(), Config{}, &fakeSpeaker{}, catLesson)
	assert.Contains(t, before.View(), "Loading")
}

func TestEventsSendNeverBlocks(t *testing.T) {
	ev := make(events, 1)
	ev.send(wordMsg{word: 1})
	ev.send(wordMsg{word: 2})
	assert.Equal(t, wordMsg{word: 1}, <-ev)
	assert.Empty(t, ev)

	ev.send(SettingsChangedMsg{})
	assert.Equal(t, SettingsChangedMsg{}, ev.wait()())
}
