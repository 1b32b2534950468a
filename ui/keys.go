package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit        key.Binding
	Help        key.Binding
	Send        key.Binding
	Newline     key.Binding
	Cancel      key.Binding
	SwitchView  key.Binding
	CopyReply   key.Binding
	CopyReport  key.Binding
	Export      key.Binding
	ScrollUp    key.Binding
	ScrollDown  key.Binding
	ToggleDebug key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "alt+q"),
		key.WithHelp("Alt+Q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("alt+h", "f1"),
		key.WithHelp("Alt+H", "help"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("Enter", "send"),
	),
	Newline: key.NewBinding(
		key.WithKeys("alt+enter"),
		key.WithHelp("Alt+Enter", "new line"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("Esc", "cancel"),
	),
	SwitchView: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("Tab", "chat/analysis"),
	),
	CopyReply: key.NewBinding(
		key.WithKeys("alt+y"),
		key.WithHelp("Alt+Y", "copy reply"),
	),
	CopyReport: key.NewBinding(
		key.WithKeys("alt+r"),
		key.WithHelp("Alt+R", "copy report"),
	),
	Export: key.NewBinding(
		key.WithKeys("alt+e"),
		key.WithHelp("Alt+E", "export report"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("pgup", "alt+k"),
		key.WithHelp("PgUp", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("pgdown", "alt+j"),
		key.WithHelp("PgDn", "scroll down"),
	),
	ToggleDebug: key.NewBinding(
		key.WithKeys("alt+l"),
		key.WithHelp("Alt+L", "event log"),
	),
}
