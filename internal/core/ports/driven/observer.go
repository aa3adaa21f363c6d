package driven

import "github.com/custodia-labs/carbon-cli/internal/core/domain"

// ReplayObserver receives replay progress observations.
// Implementations must return quickly and must not block; they are
// called from pipeline workers.
type ReplayObserver interface {
	Observe(event domain.ReplayEvent)
}

// ReplayObserverFunc adapts a function to ReplayObserver.
type ReplayObserverFunc func(event domain.ReplayEvent)

// Observe calls f(event).
func (f ReplayObserverFunc) Observe(event domain.ReplayEvent) {
	f(event)
}
