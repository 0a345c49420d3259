package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"netaccess/internal/monitor"
)

type keyMap struct {
	Quit  key.Binding
	Wake  key.Binding
	Retry key.Binding
	Help  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "Q", "ctrl+c"),
		key.WithHelp("q", "quit monitor"),
	),
	Wake: key.NewBinding(
		key.WithKeys("w", "W"),
		key.WithHelp("w", "wake monitor"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r", "R"),
		key.WithHelp("r", "retry and recover"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// forState enables only the bindings the current state accepts.
func (k keyMap) forState(kind monitor.Kind, known bool) keyMap {
	k.Wake.SetEnabled(known && kind == monitor.KindSuspended)
	k.Retry.SetEnabled(known && kind == monitor.KindError)
	return k
}

// ShortHelp returns a compact list for the help bar.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Wake, k.Retry, k.Help, k.Quit}
}

// FullHelp returns grouped bindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Wake, k.Retry},
		{k.Help, k.Quit},
	}
}
