package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBar_Defaults(t *testing.T) {
	bar := NewBar(nil, nil)
	assert.Equal(t, StateRunning, bar.State())
	assert.Contains(t, bar.View(), "Running")
	assert.Contains(t, bar.View(), "ctrl+c: cancel")
}

func TestBar_States(t *testing.T) {
	bar := NewBar(nil, nil)

	bar.SetState(StateCancelling)
	assert.Contains(t, bar.View(), "Cancelling...")

	bar.SetState(StateDone)
	bar.SetMessage("Restored 10 documents")
	view := bar.View()
	assert.Contains(t, view, "Restored 10 documents")
	assert.Contains(t, view, "q: quit")

	bar.SetState(StateFailed)
	bar.SetMessage("boom")
	assert.Contains(t, bar.View(), "Error: boom")
}

func TestBar_NarrowWidthKeepsBothSides(t *testing.T) {
	bar := NewBar(nil, nil)
	bar.SetWidth(1)
	view := bar.View()
	assert.Contains(t, view, "Running")
	assert.Contains(t, view, "cancel")
}
