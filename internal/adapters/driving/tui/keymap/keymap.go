// Package keymap defines keybindings for the terminal views.
package keymap

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings of the progress views.
type KeyMap struct {
	// Cancel stops the running operation.
	Cancel key.Binding

	// Quit leaves the view once the operation has finished.
	Quit key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Cancel: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("ctrl+c", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "enter"),
			key.WithHelp("q", "quit"),
		),
	}
}

// RunningHelp returns the bindings shown while an operation runs.
func (k *KeyMap) RunningHelp() []key.Binding {
	return []key.Binding{k.Cancel}
}

// FinishedHelp returns the bindings shown after an operation ends.
func (k *KeyMap) FinishedHelp() []key.Binding {
	return []key.Binding{k.Quit}
}

// Matches checks if a key string matches a binding.
func Matches(keyStr string, binding key.Binding) bool {
	for _, k := range binding.Keys() {
		if k == keyStr {
			return true
		}
	}
	return false
}
