package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/learntoreadsa/readaloud/tts"
)

// wordMsg reports the word being spoken. gen ties it to the speak call
// that produced it so stale events from a stopped sentence are dropped.
type wordMsg struct {
	gen      int
	sentence int
	word     int
}

// speakDoneMsg is sent when a speak call for a sentence returns.
type speakDoneMsg struct {
	gen      int
	sentence int
	err      error
}

// stateMsg mirrors a playback state transition.
type stateMsg struct {
	from, to tts.StateType
}

// SettingsChangedMsg tells the view that speech settings were changed
// outside of it, for example by a config reload. Zero fields are
// unchanged.
type SettingsChangedMsg struct {
	Rate  float64
	Pitch float64
}

// events carries callbacks from speech goroutines into the update loop.
type events chan tea.Msg

// send never blocks the speech goroutine. A full buffer means the view is
// far behind and the dropped message is already stale.
func (e events) send(msg tea.Msg) {
	select {
	case e <- msg:
	default:
	}
}

// wait returns a command that delivers the next event.
func (e events) wait() tea.Cmd {
	return func() tea.Msg {
		return <-e
	}
}
