package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Reset key.Binding
	Input key.Binding
	Quit  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Reset: key.NewBinding(
			key.WithKeys("r", "n"),
			key.WithHelp("r", "new round"),
		),
		Input: key.NewBinding(
			key.WithKeys(" ", "d"),
			key.WithHelp("space", "start drawing"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Reset, k.Input, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
