package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// Ensure ReplayProgress implements the interface.
var _ driven.ReplayObserver = (*ReplayProgress)(nil)

// ReplayProgress turns replay observations into live counters.
// Observe only touches atomics, so it never slows the pipeline.
type ReplayProgress struct {
	queued      atomic.Int64
	waiting     atomic.Int64
	inserting   atomic.Int64
	inserted    atomic.Int64
	failed      atomic.Int64
	throttled   atomic.Int64
	insertNanos atomic.Int64

	mu        sync.RWMutex
	startedAt time.Time
	endedAt   time.Time
	running   bool
}

// NewReplayProgress creates an idle progress tracker.
func NewReplayProgress() *ReplayProgress {
	return &ReplayProgress{}
}

// Begin resets the counters and starts the clock.
func (p *ReplayProgress) Begin() {
	p.queued.Store(0)
	p.waiting.Store(0)
	p.inserting.Store(0)
	p.inserted.Store(0)
	p.failed.Store(0)
	p.throttled.Store(0)
	p.insertNanos.Store(0)

	p.mu.Lock()
	p.startedAt = time.Now()
	p.endedAt = time.Time{}
	p.running = true
	p.mu.Unlock()
}

// End stops the clock.
func (p *ReplayProgress) End() {
	p.mu.Lock()
	p.endedAt = time.Now()
	p.running = false
	p.mu.Unlock()
}

// Observe implements driven.ReplayObserver.
func (p *ReplayProgress) Observe(event domain.ReplayEvent) {
	switch event.Kind {
	case domain.EventQueued:
		p.queued.Add(1)
	case domain.EventInserting:
		p.queued.Add(-1)
		p.inserting.Add(1)
	case domain.EventInserted:
		p.inserting.Add(-1)
		p.inserted.Add(1)
		p.insertNanos.Add(int64(event.Elapsed))
	case domain.EventFailed:
		p.inserting.Add(-1)
		p.failed.Add(1)
	case domain.EventThrottleWaitStarted:
		p.inserting.Add(-1)
		p.waiting.Add(1)
		p.throttled.Add(1)
	case domain.EventThrottleWaitFinished:
		p.waiting.Add(-1)
		p.queued.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (p *ReplayProgress) Stats() domain.ReplayStats {
	p.mu.RLock()
	startedAt, endedAt, running := p.startedAt, p.endedAt, p.running
	p.mu.RUnlock()

	stats := domain.ReplayStats{
		Queued:    p.queued.Load(),
		Waiting:   p.waiting.Load(),
		Inserting: p.inserting.Load(),
		Inserted:  p.inserted.Load(),
		Failed:    p.failed.Load(),
		Throttled: p.throttled.Load(),
		Running:   running,
	}
	if stats.Inserted > 0 {
		stats.AverageInsert = time.Duration(p.insertNanos.Load() / stats.Inserted)
	}
	switch {
	case startedAt.IsZero():
	case running:
		stats.Elapsed = time.Since(startedAt)
	default:
		stats.Elapsed = endedAt.Sub(startedAt)
	}
	return stats
}

// MultiObserver fans observations out to several observers.
type MultiObserver []driven.ReplayObserver

// Observe implements driven.ReplayObserver.
func (m MultiObserver) Observe(event domain.ReplayEvent) {
	for _, o := range m {
		if o != nil {
			o.Observe(event)
		}
	}
}
