// Package status provides the status line shown under a progress view.
package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/styles"
)

// State is the lifecycle of the operation being displayed.
type State string

const (
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Bar displays the operation state and keybinding hints.
type Bar struct {
	styles  *styles.Styles
	keymap  *keymap.KeyMap
	state   State
	message string
	width   int
}

// NewBar creates a status bar.
func NewBar(s *styles.Styles, km *keymap.KeyMap) *Bar {
	if s == nil {
		s = styles.DefaultStyles()
	}
	if km == nil {
		km = keymap.DefaultKeyMap()
	}

	return &Bar{
		styles: s,
		keymap: km,
		state:  StateRunning,
		width:  60,
	}
}

// View renders the status bar.
func (s *Bar) View() string {
	left := s.renderLeft()
	right := s.renderRight()

	padding := s.width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 1 {
		padding = 1
	}
	return left + strings.Repeat(" ", padding) + right
}

func (s *Bar) renderLeft() string {
	switch s.state {
	case StateCancelling:
		return s.styles.Warning.Render("Cancelling...")
	case StateDone:
		if s.message != "" {
			return s.styles.Success.Render(s.message)
		}
		return s.styles.Success.Render("Done")
	case StateFailed:
		if s.message != "" {
			return s.styles.Error.Render(fmt.Sprintf("Error: %s", s.message))
		}
		return s.styles.Error.Render("Error")
	default:
		return s.styles.Muted.Render("Running")
	}
}

func (s *Bar) renderRight() string {
	var bindings []key.Binding
	if s.state == StateDone || s.state == StateFailed {
		bindings = s.keymap.FinishedHelp()
	} else {
		bindings = s.keymap.RunningHelp()
	}

	hints := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		hints = append(hints, fmt.Sprintf("%s: %s", h.Key, h.Desc))
	}
	return s.styles.Help.Render(strings.Join(hints, " | "))
}

// SetState sets the current state.
func (s *Bar) SetState(state State) {
	s.state = state
}

// State returns the current state.
func (s *Bar) State() State {
	return s.state
}

// SetMessage sets the message shown for finished states.
func (s *Bar) SetMessage(message string) {
	s.message = message
}

// SetWidth sets the status bar width.
func (s *Bar) SetWidth(width int) {
	s.width = width
}
