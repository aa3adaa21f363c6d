// Package messages defines Bubbletea message types for the progress views.
package messages

import (
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

// Tick asks a view to refresh its counters.
type Tick struct {
	At time.Time
}

// ReplayFinished is sent when a restore returns.
type ReplayFinished struct {
	Stats   domain.ReplayStats
	Elapsed time.Duration
	Err     error
}
