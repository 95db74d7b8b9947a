// Package ui is the read-along view: it shows a lesson, reads it aloud one
// sentence at a time and highlights each word as it is spoken.
package ui

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/learntoreadsa/readaloud/tts"
	"github.com/learntoreadsa/readaloud/tts/sentence"
)

// Speaker is the part of the speech service the view drives.
type Speaker interface {
	Speak(ctx context.Context, opts tts.SpeakOptions) error
	Stop()
	Pause() error
	Resume() error
	Prefetch(words []string, start int)
	SetProsody(rate, pitch float64)
	OnStateChange(fn func(from, to tts.StateType))
	SelectedVoice() (tts.Voice, bool)
	ActiveProvider() tts.ProviderKind
}

const (
	headerHeight = 2
	footerHeight = 3 // progress, status bar, help
	eventBuffer  = 256
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(mintGreen).Padding(0, 1)

type autoPlayMsg struct{}

// Model is the bubbletea model of the read-along view.
type Model struct {
	ctx     context.Context
	cfg     Config
	speaker Speaker
	lesson  lesson
	events  events

	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int

	speed speed
	pitch float64
	state tts.StateType

	current int
	word    int
	// gen identifies the latest speak call; older results are ignored.
	gen int
	// playing is set while sentences are read one after another.
	playing bool
	err     string
}

// NewModel prepares the view for markdown. Speech runs under ctx.
func NewModel(ctx context.Context, cfg Config, speaker Speaker, markdown string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	pitch := cfg.Pitch
	if pitch == 0 {
		pitch = tts.DefaultPitch
	}

	ev := make(events, eventBuffer)
	speaker.OnStateChange(func(from, to tts.StateType) {
		ev.send(stateMsg{from: from, to: to})
	})

	return Model{
		ctx:     ctx,
		cfg:     cfg,
		speaker: speaker,
		lesson:  newLesson(sentence.NewParser(), markdown),
		events:  ev,
		keys:    newKeyMap(),
		help:    help.New(),
		spinner: sp,
		speed:   newSpeed(cfg.Rate),
		pitch:   tts.ClampProsody(pitch),
		word:    -1,
	}
}

// NewProgram returns a bubbletea program running m.
func NewProgram(m Model, extra ...tea.ProgramOption) *tea.Program {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if m.cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(m, append(opts, extra...)...)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.events.wait()}
	if m.cfg.AutoPlay && len(m.lesson.sentences) > 0 {
		cmds = append(cmds, func() tea.Msg { return autoPlayMsg{} })
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.setSize()
		m.refresh()

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			m.refresh()
			return m, cmd
		}

	case autoPlayMsg:
		cmd := m.playSentence(0)
		m.refresh()
		return m, cmd

	case wordMsg:
		if msg.gen == m.gen && msg.sentence == m.current {
			m.word = msg.word
			m.refresh()
		}
		return m, m.events.wait()

	case stateMsg:
		m.state = msg.to
		return m, m.events.wait()

	case speakDoneMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.word = -1
		if msg.err != nil {
			m.err = tts.Message(msg.err)
			m.playing = false
		} else if m.playing && m.cfg.AutoAdvance && m.current+1 < len(m.lesson.sentences) {
			cmd := m.playSentence(m.current + 1)
			m.refresh()
			return m, cmd
		} else {
			m.playing = false
		}
		m.refresh()
		return m, nil

	case SettingsChangedMsg:
		if msg.Rate > 0 {
			m.speed = newSpeed(msg.Rate)
		}
		if msg.Pitch > 0 {
			m.pitch = tts.ClampProsody(msg.Pitch)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	n := len(m.lesson.sentences)

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.speaker.Stop()
		return tea.Quit, true

	case key.Matches(msg, m.keys.Play):
		switch m.state {
		case tts.StatePlaying:
			m.setErr(m.speaker.Pause())
		case tts.StatePaused:
			m.setErr(m.speaker.Resume())
		default:
			if n > 0 {
				return m.playSentence(max(m.current, 0)), true
			}
		}
		return nil, true

	case key.Matches(msg, m.keys.Stop):
		m.gen++
		m.playing = false
		m.word = -1
		m.speaker.Stop()
		return nil, true

	case key.Matches(msg, m.keys.Next):
		if m.current+1 < n {
			return m.moveTo(m.current + 1), true
		}
		return nil, true

	case key.Matches(msg, m.keys.Prev):
		if m.current > 0 {
			return m.moveTo(m.current - 1), true
		}
		return nil, true

	case key.Matches(msg, m.keys.WordNext):
		if n > 0 && m.word+1 < len(m.lesson.sentences[m.current].Words()) {
			m.word++
		}
		return nil, true

	case key.Matches(msg, m.keys.WordPrev):
		if m.word > 0 {
			m.word--
		}
		return nil, true

	case key.Matches(msg, m.keys.SayWord):
		return m.sayWord(), true

	case key.Matches(msg, m.keys.Faster):
		m.speed.increase()
		m.speaker.SetProsody(m.speed.rate, m.pitch)
		return nil, true

	case key.Matches(msg, m.keys.Slower):
		m.speed.decrease()
		m.speaker.SetProsody(m.speed.rate, m.pitch)
		return nil, true

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.setSize()
		return nil, true
	}
	return nil, false
}

// moveTo selects sentence i, reading it when a run is in progress.
func (m *Model) moveTo(i int) tea.Cmd {
	if m.playing {
		return m.playSentence(i)
	}
	m.current = i
	m.word = -1
	return nil
}

// playSentence starts reading sentence i with word tracking. The words of
// the following sentence are warmed in the cache meanwhile.
func (m *Model) playSentence(i int) tea.Cmd {
	m.current = i
	m.word = -1
	m.gen++
	m.playing = true
	m.err = ""

	if m.cfg.Prefetch && i+1 < len(m.lesson.sentences) {
		m.speaker.Prefetch(m.lesson.sentences[i+1].Words(), 0)
	}
	return m.speakCmd(i, m.lesson.sentences[i].Text, true)
}

// sayWord speaks the selected word on its own, or the first word of the
// sentence when none is selected.
func (m *Model) sayWord() tea.Cmd {
	if len(m.lesson.sentences) == 0 {
		return nil
	}
	words := m.lesson.sentences[m.current].Words()
	if len(words) == 0 {
		return nil
	}
	m.word = max(m.word, 0)
	m.gen++
	m.playing = false
	m.err = ""
	return m.speakCmd(m.current, words[m.word], false)
}

// speakCmd speaks text for sentence i. Single words are spoken without
// word tracking so that they can be served from the cache.
func (m *Model) speakCmd(i int, text string, track bool) tea.Cmd {
	var (
		ctx     = m.ctx
		gen     = m.gen
		ev      = m.events
		speaker = m.speaker
		opts    = tts.SpeakOptions{Text: text, Rate: m.speed.rate, Pitch: m.pitch}
	)
	if track {
		opts.OnWordBoundary = func(b tts.WordBoundary) {
			ev.send(wordMsg{gen: gen, sentence: i, word: b.WordIndex})
		}
	}
	return func() tea.Msg {
		err := speaker.Speak(ctx, opts)
		return speakDoneMsg{gen: gen, sentence: i, err: err}
	}
}

func (m *Model) setErr(err error) {
	if err != nil {
		m.err = tts.Message(err)
	}
}

func (m *Model) setSize() {
	h := m.height - headerHeight - footerHeight
	if m.help.ShowAll {
		h -= len(m.keys.FullHelp()[0]) - 1
	}
	h = max(h, 1)
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	m.help.Width = m.width
}

func (m Model) wrapWidth() int {
	w := m.width - 2
	if m.cfg.MaxWidth > 0 && w > int(m.cfg.MaxWidth) {
		w = int(m.cfg.MaxWidth)
	}
	return max(w, 0)
}

// refresh re-renders the lesson and scrolls the current sentence into
// view.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	w := m.wrapWidth()
	m.viewport.SetContent(m.lesson.render(m.current, m.word, w))

	line := m.lesson.lineOf(m.current, w)
	if line < m.viewport.YOffset || line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(max(0, line-m.viewport.Height/3))
	}
}

func (m Model) title() string {
	switch {
	case m.cfg.Title != "":
		return m.cfg.Title
	case m.cfg.Path != "":
		return filepath.Base(m.cfg.Path)
	default:
		return "readaloud"
	}
}

func (m Model) status() statusDisplay {
	s := statusDisplay{
		state:     m.state,
		current:   m.current,
		total:     len(m.lesson.sentences),
		provider:  m.speaker.ActiveProvider(),
		speed:     m.speed,
		remaining: m.lesson.remaining(m.current - 1),
		err:       m.err,
		spinner:   m.spinner.View(),
	}
	if v, ok := m.speaker.SelectedVoice(); ok {
		s.voice = v.Name
	}
	return s
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "\n  " + m.spinner.View() + " Loading…"
	}
	s := m.status()
	return titleStyle.Render(m.title()) + "\n\n" +
		m.viewport.View() + "\n" +
		s.progressBar(m.width) + "\n" +
		s.render(m.width) + "\n" +
		m.help.View(m.keys)
}
