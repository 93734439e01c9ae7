package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Quit         key.Binding
	Enter        key.Binding
	FinishChat   key.Binding
	ToggleReason key.Binding
	Dismiss      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send / continue"),
		),
		FinishChat: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("ctrl+d", "finish conversation"),
		),
		ToggleReason: key.NewBinding(
			key.WithKeys("alt+r"),
			key.WithHelp("alt+r", "show reasoning"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss error"),
		),
	}
}
