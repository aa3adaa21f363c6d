package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

func newTestSink(t *testing.T, capacity int) (*SnapshotSink, *memory.SnapshotLog) {
	t.Helper()
	backend := memory.NewSnapshotBackend()
	_, err := backend.Create(context.Background(), "snap")
	require.NoError(t, err)
	log, _ := backend.Log("snap")
	return NewSnapshotSink(context.Background(), log, capacity), log
}

func TestSnapshotSink_AppendsCompactRecords(t *testing.T) {
	ctx := context.Background()
	sink, log := newTestSink(t, 4)

	require.NoError(t, sink.AppendBulk(ctx, domain.MustDocument(`{ "id" : "1" }`)))
	require.NoError(t, sink.AppendTail(ctx, domain.MustDocument(`{"id":"1","v":2}`)))
	require.NoError(t, sink.AppendBulk(ctx, domain.MustDocument(`{"id":"2"}`)))
	require.NoError(t, sink.Close())

	records := log.Records()
	require.Len(t, records, 3)
	assert.Equal(t, `{"id":"1"}`, string(records[0].Body))
	assert.Equal(t, domain.SegmentBulk, records[1].Segment)
	assert.Equal(t, domain.SegmentTail, records[2].Segment)

	assert.Equal(t, int64(2), sink.BulkCount())
	assert.Equal(t, int64(1), sink.TailCount())
	assert.Equal(t, int64(len(`{"id":"1"}`)+len(`{"id":"1","v":2}`)+len(`{"id":"2"}`)), sink.Bytes())
	assert.True(t, log.Closed())
}

func TestSnapshotSink_CloseIsIdempotent(t *testing.T) {
	sink, _ := newTestSink(t, 4)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err := sink.AppendBulk(context.Background(), domain.MustDocument(`{"id":"1"}`))
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestSnapshotSink_DeleteOnce(t *testing.T) {
	ctx := context.Background()
	sink, log := newTestSink(t, 4)
	require.NoError(t, sink.AppendBulk(ctx, domain.MustDocument(`{"id":"1"}`)))

	require.NoError(t, sink.Delete(ctx))
	require.NoError(t, sink.Delete(ctx))

	assert.Equal(t, 1, log.DeleteCount())
	assert.Empty(t, log.Records())
}

func TestSnapshotSink_RejectsUnknownSegment(t *testing.T) {
	sink, _ := newTestSink(t, 4)
	defer sink.Close()
	err := sink.Append(context.Background(), domain.Segment("middle"), domain.MustDocument(`{"id":"1"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSnapshotSink_AppendFailureReleasesProducers(t *testing.T) {
	ctx := context.Background()
	sink, log := newTestSink(t, 1)
	boom := errors.New("disk full")
	log.FailAppends(0, boom)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sink.AppendBulk(ctx, domain.MustDocument(`{"id":"x"}`))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producers stayed blocked after failure")
	}
	close(errs)

	assert.ErrorIs(t, sink.Err(), boom)
	assert.ErrorIs(t, sink.Close(), boom)
}

func TestSnapshotSink_QueueIsBounded(t *testing.T) {
	ctx := context.Background()
	sink, _ := newTestSink(t, 3)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = sink.AppendBulk(ctx, domain.MustDocument(`{"id":"x"}`))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	assert.Equal(t, int64(200), sink.BulkCount())
	assert.LessOrEqual(t, sink.QueuePeak(), sink.QueueCap())
}
