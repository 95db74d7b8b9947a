package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Play     key.Binding
	Stop     key.Binding
	Next     key.Binding
	Prev     key.Binding
	WordNext key.Binding
	WordPrev key.Binding
	SayWord  key.Binding
	Faster   key.Binding
	Slower   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Play:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Stop:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Next:     key.NewBinding(key.WithKeys("n", "down", "j"), key.WithHelp("n", "next sentence")),
		Prev:     key.NewBinding(key.WithKeys("p", "up", "k"), key.WithHelp("p", "previous sentence")),
		WordNext: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "next word")),
		WordPrev: key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "previous word")),
		SayWord:  key.NewBinding(key.WithKeys("enter", "w"), key.WithHelp("enter", "say word")),
		Faster:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
		Slower:   key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "slower")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Next, k.SayWord, k.Faster, k.Slower, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Stop, k.Next, k.Prev},
		{k.WordNext, k.WordPrev, k.SayWord},
		{k.Faster, k.Slower, k.Help, k.Quit},
	}
}
