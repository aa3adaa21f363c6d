package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// ProcessorConfig configures a capture.
type ProcessorConfig struct {
	// Query restricts the bulk scan; empty reads everything.
	Query string

	// Lease names the container holding the change feed checkpoint.
	Lease string

	// Reader tunes the bulk scan.
	Reader BulkReaderConfig
}

// SnapshotProcessor captures a consistent snapshot of a container while
// it keeps taking writes. The change feed is subscribed before the bulk
// scan starts, so every write committed after Start is either seen by the
// scan or lands in the tail segment.
//
// The processor owns the change feed subscription and the sink. It is the
// only component that stops, closes or deletes them.
type SnapshotProcessor struct {
	reader *BulkReader
	tailer *ChangeFeedTailer
	sink   *SnapshotSink

	mu         sync.Mutex
	state      domain.ProcessorState
	base       context.Context
	cancel     context.CancelFunc
	failure    error
	err        error
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

// NewSnapshotProcessor creates a processor in the Created state.
func NewSnapshotProcessor(
	reader driven.ContainerReader,
	feed driven.ChangeFeed,
	sink *SnapshotSink,
	config ProcessorConfig,
) *SnapshotProcessor {
	return &SnapshotProcessor{
		reader: NewBulkReader(reader, config.Query, config.Reader),
		tailer: NewChangeFeedTailer(feed, config.Lease),
		sink:   sink,
		state:  domain.ProcessorCreated,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the change feed and then starts the bulk scan in
// the background. Calling Start on a running capture is a no-op.
// If the subscription cannot be started the capture is aborted, the
// partial snapshot deleted, and the error returned.
func (p *SnapshotProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case domain.ProcessorRunning, domain.ProcessorDraining:
		p.mu.Unlock()
		return nil
	case domain.ProcessorCreated:
	default:
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("start capture in state %s: %w", state, domain.ErrClosed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.base = context.WithoutCancel(ctx)
	p.cancel = cancel
	p.startedAt = time.Now()
	p.transition(domain.ProcessorRunning)

	if err := p.tailer.Start(runCtx, p.sink.AppendTail); err != nil {
		p.failure = err
		p.transition(domain.ProcessorCancelling)
		p.mu.Unlock()
		p.abort()
		return err
	}
	p.mu.Unlock()

	go p.run(runCtx)
	go p.watchFeed(runCtx)
	return nil
}

// Cancel aborts a capture that has not finished its bulk scan: it stops
// the subscription, deletes the partial snapshot and releases waiters
// with domain.ErrCaptureCancelled. Once the scan has completed, Cancel
// is a no-op. Cancel blocks until cleanup finishes or ctx is done.
func (p *SnapshotProcessor) Cancel(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case domain.ProcessorCreated:
		p.base = context.WithoutCancel(ctx)
		p.transition(domain.ProcessorCancelling)
		p.mu.Unlock()
		p.abort()
		return nil
	case domain.ProcessorRunning:
		p.transition(domain.ProcessorCancelling)
		p.cancel()
	case domain.ProcessorCancelling:
	default:
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the capture completes, is cancelled or fails.
// It returns nil on completion, domain.ErrCaptureCancelled after a
// cancel, or the producer error that aborted the capture.
func (p *SnapshotProcessor) Wait() error {
	<-p.done
	return p.outcome()
}

// WaitTimeout is Wait with a deadline. It returns domain.ErrWaitTimeout
// if the capture is still running after d; the capture is not affected.
func (p *SnapshotProcessor) WaitTimeout(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.outcome()
	case <-timer.C:
		return domain.ErrWaitTimeout
	}
}

// WaitContext is Wait that gives up when ctx is done.
func (p *SnapshotProcessor) WaitContext(ctx context.Context) error {
	select {
	case <-p.done:
		return p.outcome()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the capture reaches Completed or Cancelled.
func (p *SnapshotProcessor) Done() <-chan struct{} {
	return p.done
}

// Close disposes of the processor. An unfinished capture is cancelled
// first. Calling Close again is a no-op.
func (p *SnapshotProcessor) Close() error {
	p.mu.Lock()
	if p.state == domain.ProcessorDisposed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.Cancel(context.Background()); err != nil {
		return err
	}
	<-p.done

	p.mu.Lock()
	p.transition(domain.ProcessorDisposed)
	p.mu.Unlock()

	// Already closed or deleted by now; this only guards the invariant.
	return p.sink.Close()
}

// State returns the current lifecycle state.
func (p *SnapshotProcessor) State() domain.ProcessorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns capture progress.
func (p *SnapshotProcessor) Stats() domain.CaptureStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var elapsed time.Duration
	switch {
	case p.startedAt.IsZero():
	case p.finishedAt.IsZero():
		elapsed = time.Since(p.startedAt)
	default:
		elapsed = p.finishedAt.Sub(p.startedAt)
	}

	return domain.CaptureStats{
		State:     p.state,
		BulkCount: p.sink.BulkCount(),
		TailCount: p.sink.TailCount(),
		Throttled: p.reader.Throttled(),
		Elapsed:   elapsed,
	}
}

// run drives the bulk scan and then completes or aborts the capture.
func (p *SnapshotProcessor) run(ctx context.Context) {
	err := p.reader.Run(ctx, p.sink.AppendBulk)

	p.mu.Lock()
	if p.state == domain.ProcessorRunning {
		if err != nil {
			p.failure = fmt.Errorf("bulk scan: %w", err)
			p.transition(domain.ProcessorCancelling)
		} else {
			p.transition(domain.ProcessorDraining)
		}
	}
	draining := p.state == domain.ProcessorDraining
	p.mu.Unlock()

	if draining {
		p.complete()
		return
	}
	p.abort()
}

// watchFeed aborts the capture if the subscription dies during the scan.
func (p *SnapshotProcessor) watchFeed(ctx context.Context) {
	done := p.tailer.Done()
	if done == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	err := p.tailer.Err()
	if err == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.ProcessorRunning {
		p.failure = fmt.Errorf("change feed: %w", err)
		p.transition(domain.ProcessorCancelling)
		p.cancel()
	}
}

// complete stops the feed, then flushes and closes the sink.
func (p *SnapshotProcessor) complete() {
	ctx := p.cleanupContext()

	err := p.tailer.Stop(ctx)
	if err == nil {
		err = p.tailer.Err()
	}
	if err == nil {
		err = p.sink.Close()
	}

	if err != nil {
		p.mu.Lock()
		p.failure = fmt.Errorf("finish capture: %w", err)
		p.transition(domain.ProcessorCancelling)
		p.mu.Unlock()
		p.abort()
		return
	}

	logger.Debug("capture completed: %d bulk, %d tail records", p.sink.BulkCount(), p.sink.TailCount())
	p.finish(domain.ProcessorCompleted, nil)
}

// abort stops the feed before deleting the partial snapshot.
func (p *SnapshotProcessor) abort() {
	ctx := p.cleanupContext()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	failure := p.failure
	p.mu.Unlock()

	var errs []error
	if err := p.tailer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.sink.Delete(ctx); err != nil {
		errs = append(errs, err)
	}

	outcome := domain.ErrCaptureCancelled
	if failure != nil && !errors.Is(failure, context.Canceled) {
		outcome = errors.Join(append([]error{failure}, errs...)...)
	} else if len(errs) > 0 {
		outcome = errors.Join(append([]error{domain.ErrCaptureCancelled}, errs...)...)
	}

	if failure != nil {
		logger.Warn("capture aborted: %v", outcome)
	} else {
		logger.Debug("capture cancelled")
	}
	p.finish(domain.ProcessorCancelled, outcome)
}

func (p *SnapshotProcessor) finish(state domain.ProcessorState, err error) {
	p.mu.Lock()
	p.transition(state)
	p.err = err
	p.finishedAt = time.Now()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *SnapshotProcessor) outcome() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *SnapshotProcessor) cleanupContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.base == nil {
		return context.Background()
	}
	return p.base
}

// transition moves to next if the lifecycle allows it. Caller holds mu.
func (p *SnapshotProcessor) transition(next domain.ProcessorState) bool {
	if !p.state.CanTransition(next) {
		logger.Warn("capture: ignoring transition %s -> %s", p.state, next)
		return false
	}
	logger.Debug("capture: %s -> %s", p.state, next)
	p.state = next
	return true
}
