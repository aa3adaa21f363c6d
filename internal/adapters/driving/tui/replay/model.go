// Package replay renders live restore progress with Bubbletea.
package replay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/components/status"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// RefreshInterval is how often counters are re-read.
const RefreshInterval = 200 * time.Millisecond

// StatsFunc returns the current replay counters.
type StatsFunc func() domain.ReplayStats

// Model is the Bubbletea model of the replay view. The restore runs
// elsewhere and reports completion with messages.ReplayFinished.
type Model struct {
	title    string
	stats    StatsFunc
	cancel   context.CancelFunc
	interval time.Duration

	styles  *styles.Styles
	keymap  *keymap.KeyMap
	spinner spinner.Model
	bar     *status.Bar

	current domain.ReplayStats
	result  *messages.ReplayFinished
}

// New creates the view. cancel is called when the user cancels.
func New(title string, stats StatsFunc, cancel context.CancelFunc) *Model {
	s := styles.DefaultStyles()
	km := keymap.DefaultKeyMap()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(s.Theme().Primary)

	return &Model{
		title:    title,
		stats:    stats,
		cancel:   cancel,
		interval: RefreshInterval,
		styles:   s,
		keymap:   km,
		spinner:  sp,
		bar:      status.NewBar(s, km),
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return messages.Tick{At: t}
	})
}

// Init starts the spinner and the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tick())
}

// Update handles key presses, ticks and completion.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		if m.result != nil {
			if keymap.Matches(key, m.keymap.Quit) || keymap.Matches(key, m.keymap.Cancel) {
				return m, tea.Quit
			}
			return m, nil
		}
		if keymap.Matches(key, m.keymap.Cancel) && m.bar.State() == status.StateRunning {
			m.bar.SetState(status.StateCancelling)
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.SetWidth(msg.Width)
		return m, nil

	case messages.Tick:
		if m.result != nil {
			return m, nil
		}
		if m.stats != nil {
			m.current = m.stats()
		}
		return m, m.tick()

	case messages.ReplayFinished:
		m.result = &msg
		m.current = msg.Stats
		if msg.Err != nil {
			m.bar.SetState(status.StateFailed)
			m.bar.SetMessage(msg.Err.Error())
		} else {
			m.bar.SetState(status.StateDone)
			m.bar.SetMessage(fmt.Sprintf("Restored %d documents in %s",
				msg.Stats.Inserted, msg.Elapsed.Round(time.Millisecond)))
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.result != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the counters.
func (m *Model) View() string {
	var b strings.Builder

	header := m.styles.Title.Render(m.title)
	if m.result == nil {
		header = m.spinner.View() + " " + header
	}
	b.WriteString(header)
	b.WriteString("\n")

	st := m.current
	rows := []struct {
		label string
		value string
	}{
		{"Queued", fmt.Sprint(st.Queued)},
		{"Waiting", fmt.Sprint(st.Waiting)},
		{"Inserting", fmt.Sprint(st.Inserting)},
		{"Inserted", fmt.Sprint(st.Inserted)},
		{"Failed", fmt.Sprint(st.Failed)},
		{"Throttled", fmt.Sprint(st.Throttled)},
		{"Avg insert", st.AverageInsert.Round(time.Microsecond).String()},
		{"Elapsed", st.Elapsed.Round(time.Second).String()},
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, m.styles.Label.Render(r.label)+m.styles.Counter.Render(r.value))
	}
	b.WriteString(m.styles.Panel.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")
	b.WriteString(m.bar.View())
	b.WriteString("\n")
	return b.String()
}

// Result returns the completion message, or nil while running.
func (m *Model) Result() *messages.ReplayFinished {
	return m.result
}
