package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// WriterConfig tunes a ContainerWriter.
type WriterConfig struct {
	// Capacity bounds the documents held by the pipeline at once: the
	// input queue, in-flight upserts and throttle waits together.
	Capacity int

	// Parallelism is the number of concurrent upserts.
	Parallelism int

	// RetryDefault is the wait for a throttled upsert without a retry hint.
	RetryDefault time.Duration

	// MaxUpsertsPerSecond caps the upsert rate before the destination has
	// to push back. Zero disables the cap.
	MaxUpsertsPerSecond float64
}

// DefaultWriterConfig returns the default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Capacity:     100,
		Parallelism:  3,
		RetryDefault: domain.DefaultRetryAfter,
	}
}

// WriterResult summarises a replay run.
type WriterResult struct {
	Inserted  int64
	Failed    int64
	Throttled int64
	Elapsed   time.Duration
}

// ContainerWriter replays documents into a destination container as fast
// as the destination accepts them.
//
// Documents flow through three stages: a bounded input queue, a pool of
// upsert workers, and a delay stage that holds throttled documents for
// the requested wait before handing them back to the workers. A throttled
// document is never dropped. Any other rejection is reported as failed
// and the document is dropped.
//
// Versions of the same document are upserted one at a time, in the order
// they were read, so a later version is never overwritten by an earlier
// one that was throttled. Otherwise ordering is best-effort.
type ContainerWriter struct {
	dest     driven.ContainerWriter
	path     domain.PartitionKeyPath
	observer driven.ReplayObserver
	config   WriterConfig
	limiter  *rate.Limiter

	mu       sync.Mutex
	running  bool
	closed   bool
	cancel   context.CancelFunc
	finished chan struct{}

	inputPeak       atomic.Int64
	outstandingPeak atomic.Int64
}

// NewContainerWriter creates a writer for dest. observer may be nil.
func NewContainerWriter(
	dest driven.ContainerWriter,
	path domain.PartitionKeyPath,
	observer driven.ReplayObserver,
	config WriterConfig,
) *ContainerWriter {
	defaults := DefaultWriterConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.Parallelism <= 0 {
		config.Parallelism = defaults.Parallelism
	}
	if config.RetryDefault <= 0 {
		config.RetryDefault = defaults.RetryDefault
	}

	w := &ContainerWriter{
		dest:     dest,
		path:     path,
		observer: observer,
		config:   config,
	}
	if config.MaxUpsertsPerSecond > 0 {
		burst := int(config.MaxUpsertsPerSecond)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(config.MaxUpsertsPerSecond), burst)
	}
	return w
}

// Run upserts every document received from docs. It returns once docs is
// closed and every document has been inserted or has failed, or when ctx
// is cancelled. Upserts already issued when ctx is cancelled are allowed
// to finish; no new ones start.
func (w *ContainerWriter) Run(ctx context.Context, docs <-chan domain.Document) (WriterResult, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return WriterResult{}, fmt.Errorf("run writer: %w", domain.ErrClosed)
	}
	if w.running {
		w.mu.Unlock()
		return WriterResult{}, fmt.Errorf("%w: writer is already running", domain.ErrInvalidInput)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.finished = make(chan struct{})
	finished := w.finished
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(finished)
	}()

	r := newReplay(w)
	err := r.run(ctx, docs)

	w.inputPeak.Store(int64(r.input.Peak()))
	w.outstandingPeak.Store(r.outstandingPeak.Load())

	return r.result(), err
}

// Close stops a running replay and prevents further runs.
// Calling Close again is a no-op.
func (w *ContainerWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cancel := w.cancel
	finished := w.finished
	running := w.running
	w.mu.Unlock()

	if running {
		cancel()
		<-finished
	}
	return nil
}

// InputPeak returns the deepest the input queue got during the last run.
func (w *ContainerWriter) InputPeak() int {
	return int(w.inputPeak.Load())
}

// OutstandingPeak returns the most documents held by the pipeline at once
// during the last run.
func (w *ContainerWriter) OutstandingPeak() int {
	return int(w.outstandingPeak.Load())
}

// Capacity returns the configured pipeline capacity.
func (w *ContainerWriter) Capacity() int {
	return w.config.Capacity
}

// writeItem is one document travelling through the pipeline.
type writeItem struct {
	doc           domain.Document
	correlationID string
	attempt       int
}

// replay holds the state of a single Run.
type replay struct {
	w *ContainerWriter

	input   *Queue[writeItem]
	ready   chan writeItem
	retries chan domain.RetryDirective
	slots   chan struct{}

	keysMu   sync.Mutex
	inflight map[string][]writeItem

	outstanding     atomic.Int64
	outstandingPeak atomic.Int64
	feedDone        atomic.Bool
	idle            chan struct{}
	idleOnce        sync.Once

	started   time.Time
	inserted  atomic.Int64
	failed    atomic.Int64
	throttled atomic.Int64
}

func newReplay(w *ContainerWriter) *replay {
	n := w.config.Capacity
	return &replay{
		w:        w,
		input:    NewQueue[writeItem]("replay-input", n),
		ready:    make(chan writeItem, n),
		retries:  make(chan domain.RetryDirective, n),
		slots:    make(chan struct{}, n),
		inflight: make(map[string][]writeItem),
		idle:     make(chan struct{}),
		started:  time.Now(),
	}
}

func (r *replay) run(ctx context.Context, docs <-chan domain.Document) error {
	stop := make(chan struct{})
	var workers sync.WaitGroup

	for i := 0; i < r.w.config.Parallelism; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			r.insertWorker(ctx, stop)
		}()
	}
	for i := 0; i < r.w.config.Capacity; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			r.delayWorker(ctx, stop)
		}()
	}

	err := r.feed(ctx, docs)
	if err == nil {
		select {
		case <-r.idle:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	close(stop)
	workers.Wait()

	if err != nil {
		logger.Debug("replay stopped: %v", err)
	} else {
		logger.Debug("replay complete: %d inserted, %d failed, %d throttled",
			r.inserted.Load(), r.failed.Load(), r.throttled.Load())
	}
	return err
}

// feed admits documents from the source into the input queue. Admission
// takes a slot, which is only returned when the document is done, so the
// pipeline never holds more than Capacity documents.
func (r *replay) feed(ctx context.Context, docs <-chan domain.Document) error {
	defer func() {
		r.input.Close()
		r.feedDone.Store(true)
		if r.outstanding.Load() == 0 {
			r.idleOnce.Do(func() { close(r.idle) })
		}
	}()

	for {
		var doc domain.Document
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok = <-docs:
			if !ok {
				return nil
			}
		}

		select {
		case r.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.track(r.outstanding.Add(1))

		item := writeItem{doc: doc, correlationID: uuid.NewString()}
		r.observe(domain.EventQueued, item)

		if r.park(item) {
			continue
		}
		if err := r.input.Send(ctx, item); err != nil {
			return err
		}
	}
}

func (r *replay) insertWorker(ctx context.Context, stop <-chan struct{}) {
	input := r.input.C()
	for {
		// Resubmissions first, so throttled documents are not starved.
		select {
		case item := <-r.ready:
			r.insert(ctx, item)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case item := <-r.ready:
			r.insert(ctx, item)
		case item, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			r.insert(ctx, item)
		}
	}
}

// errUpsertRate reports an upsert the rate cap can never admit.
var errUpsertRate = errors.New("upsert rate cap admits no writes")

func (r *replay) insert(ctx context.Context, item writeItem) {
	if r.w.limiter != nil {
		reservation := r.w.limiter.Reserve()
		if !reservation.OK() {
			r.failed.Add(1)
			r.emit(domain.ReplayEvent{
				Kind:          domain.EventFailed,
				CorrelationID: item.correlationID,
				DocumentID:    item.doc.ID,
				Attempt:       item.attempt,
				Err:           errUpsertRate,
			})
			r.release(ctx, item)
			return
		}
		if err := sleep(ctx, reservation.Delay()); err != nil {
			reservation.Cancel()
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	item.attempt++
	pk := r.w.path.Resolve(item.doc)
	if !pk.Present() {
		logger.Debug("document %s has no value at %s", item.doc.ID, r.w.path)
	}

	r.observe(domain.EventInserting, item)
	started := time.Now()
	res, err := r.w.dest.Upsert(ctx, pk, item.doc.Body)
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, domain.ErrRateLimited):
		r.throttle(ctx, item, 0)
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		r.failed.Add(1)
		r.emit(domain.ReplayEvent{
			Kind:          domain.EventFailed,
			CorrelationID: item.correlationID,
			DocumentID:    item.doc.ID,
			Attempt:       item.attempt,
			Elapsed:       elapsed,
			Err:           err,
		})
		r.release(ctx, item)
	case res.Success:
		r.inserted.Add(1)
		r.emit(domain.ReplayEvent{
			Kind:          domain.EventInserted,
			CorrelationID: item.correlationID,
			DocumentID:    item.doc.ID,
			Attempt:       item.attempt,
			Elapsed:       elapsed,
		})
		r.release(ctx, item)
	case res.RateLimited:
		r.throttle(ctx, item, res.RetryAfter)
	default:
		r.failed.Add(1)
		logger.Debug("upsert of %s rejected: %s", item.doc.ID, res.Status)
		r.emit(domain.ReplayEvent{
			Kind:          domain.EventFailed,
			CorrelationID: item.correlationID,
			DocumentID:    item.doc.ID,
			Attempt:       item.attempt,
			Elapsed:       elapsed,
			Status:        res.Status,
		})
		r.release(ctx, item)
	}
}

func (r *replay) throttle(ctx context.Context, item writeItem, wait time.Duration) {
	r.throttled.Add(1)
	directive := domain.NewRetryDirective(item.doc, item.correlationID, wait, r.w.config.RetryDefault, item.attempt)
	select {
	case r.retries <- directive:
	case <-ctx.Done():
	}
}

func (r *replay) delayWorker(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case d := <-r.retries:
			item := writeItem{doc: d.Document, correlationID: d.CorrelationID, attempt: d.Attempt}
			r.emit(domain.ReplayEvent{
				Kind:          domain.EventThrottleWaitStarted,
				CorrelationID: d.CorrelationID,
				DocumentID:    d.Document.ID,
				Attempt:       d.Attempt,
				Elapsed:       d.Wait,
			})
			if err := sleep(ctx, d.Wait); err != nil {
				return
			}
			r.emit(domain.ReplayEvent{
				Kind:          domain.EventThrottleWaitFinished,
				CorrelationID: d.CorrelationID,
				DocumentID:    d.Document.ID,
				Attempt:       d.Attempt,
				Elapsed:       d.Wait,
			})
			select {
			case r.ready <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// park holds item back while an earlier version of the same document is
// still in the pipeline. It reports whether the item was parked.
func (r *replay) park(item writeItem) bool {
	r.keysMu.Lock()
	defer r.keysMu.Unlock()

	if waiting, busy := r.inflight[item.doc.ID]; busy {
		r.inflight[item.doc.ID] = append(waiting, item)
		return true
	}
	r.inflight[item.doc.ID] = nil
	return false
}

// release finishes item: the next parked version of the document, if
// any, is handed to the workers and the item's slot is returned.
func (r *replay) release(ctx context.Context, item writeItem) {
	r.keysMu.Lock()
	waiting := r.inflight[item.doc.ID]
	var next *writeItem
	if len(waiting) > 0 {
		next = &waiting[0]
		r.inflight[item.doc.ID] = waiting[1:]
	} else {
		delete(r.inflight, item.doc.ID)
	}
	r.keysMu.Unlock()

	if next != nil {
		select {
		case r.ready <- *next:
		case <-ctx.Done():
		}
	}

	<-r.slots
	if r.outstanding.Add(-1) == 0 && r.feedDone.Load() {
		r.idleOnce.Do(func() { close(r.idle) })
	}
}

func (r *replay) track(n int64) {
	for {
		cur := r.outstandingPeak.Load()
		if n <= cur || r.outstandingPeak.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (r *replay) observe(kind domain.ReplayEventKind, item writeItem) {
	r.emit(domain.ReplayEvent{
		Kind:          kind,
		CorrelationID: item.correlationID,
		DocumentID:    item.doc.ID,
		Attempt:       item.attempt,
	})
}

func (r *replay) emit(event domain.ReplayEvent) {
	if r.w.observer != nil {
		r.w.observer.Observe(event)
	}
}

func (r *replay) result() WriterResult {
	return WriterResult{
		Inserted:  r.inserted.Load(),
		Failed:    r.failed.Load(),
		Throttled: r.throttled.Load(),
		Elapsed:   time.Since(r.started),
	}
}
