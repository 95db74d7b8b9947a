package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/learntoreadsa/readaloud/tts"
)

var (
	statusBarBg = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}
	statusFg    = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	mintGreen   = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	errorRed    = lipgloss.Color("196")

	statusBarStyle = lipgloss.NewStyle().
			Foreground(statusFg).
			Background(statusBarBg)
	counterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	errorStyle   = lipgloss.NewStyle().Foreground(errorRed)
)

const statusSeparator = " │ "

// statusDisplay collects what the status bar shows about the session.
type statusDisplay struct {
	state    tts.StateType
	current  int
	total    int
	provider tts.ProviderKind
	voice    string
	speed    speed
	// Estimated speaking time left, at normal rate
	remaining time.Duration
	err       string
	spinner   string
}

func (s statusDisplay) stateColor() lipgloss.TerminalColor {
	switch s.state {
	case tts.StatePlaying:
		return mintGreen
	case tts.StatePaused:
		return lipgloss.Color("214")
	case tts.StateLoading:
		return lipgloss.Color("39")
	case tts.StateCancelled:
		return lipgloss.Color("141")
	default:
		return lipgloss.Color("247")
	}
}

func (s statusDisplay) stateIcon() string {
	if s.err != "" && s.state == tts.StateIdle {
		return "✗"
	}
	switch s.state {
	case tts.StatePlaying:
		return "▶"
	case tts.StatePaused:
		return "⏸"
	case tts.StateLoading:
		if s.spinner != "" {
			return s.spinner
		}
		return "⟳"
	case tts.StateCancelled:
		return "◼"
	default:
		return "■"
	}
}

// compact returns the left-hand part of the status bar: state, sentence
// counter and time left.
func (s statusDisplay) compact() string {
	icon := lipgloss.NewStyle().Foreground(s.stateColor()).Render(s.stateIcon() + " " + s.state.String())
	if s.err != "" && s.state == tts.StateIdle {
		icon = errorStyle.Render(s.stateIcon() + " error")
	}
	if s.total == 0 {
		return icon
	}
	counter := counterStyle.Render(fmt.Sprintf(" %d/%d", s.current+1, s.total))
	if s.remaining > 0 {
		counter += counterStyle.Render(" -" + formatDuration(s.scaledRemaining()))
	}
	return icon + counter
}

// scaledRemaining adjusts the estimate for the speaking rate.
func (s statusDisplay) scaledRemaining() time.Duration {
	if s.speed.rate <= 0 {
		return s.remaining
	}
	return time.Duration(float64(s.remaining) / s.speed.rate)
}

// voiceLabel describes who is speaking.
func (s statusDisplay) voiceLabel() string {
	if s.voice == "" {
		return s.provider.String()
	}
	return s.voice + " (" + s.provider.String() + ")"
}

// render lays the status bar out across width cells. The error, when
// there is one, takes the place of the voice and is truncated to fit.
func (s statusDisplay) render(width int) string {
	left := s.compact()
	right := s.speed.String()

	middle := s.voiceLabel()
	if s.err != "" {
		middle = s.err
	}
	avail := width - lipgloss.Width(left) - lipgloss.Width(right) - 2*lipgloss.Width(statusSeparator) - 2
	if avail < 0 {
		avail = 0
	}
	middle = truncate.StringWithTail(middle, uint(avail), "…")
	if s.err != "" {
		middle = errorStyle.Render(middle)
	}

	bar := " " + left + statusSeparator + middle
	pad := width - lipgloss.Width(bar) - lipgloss.Width(right) - lipgloss.Width(statusSeparator) - 1
	if pad < 0 {
		pad = 0
	}
	bar += strings.Repeat(" ", pad) + statusSeparator + right + " "
	return statusBarStyle.Width(width).MaxWidth(width).Render(bar)
}

// progressBar renders reading progress through the lesson.
func (s statusDisplay) progressBar(width int) string {
	if s.total <= 0 || width < 10 {
		return ""
	}
	filled := int(float64(s.current+1) / float64(s.total) * float64(width))
	filled = max(0, min(filled, width))
	return lipgloss.NewStyle().Foreground(s.stateColor()).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(strings.Repeat("░", width-filled))
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
