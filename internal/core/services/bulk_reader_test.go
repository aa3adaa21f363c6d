package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driven"
)

// flakyReader fails the first failures reads of every cursor.
type flakyReader struct {
	driven.ContainerReader
	mu       sync.Mutex
	failures int
	seen     map[string]int
}

func (f *flakyReader) ReadPage(ctx context.Context, query, cursor string) (driven.Page, error) {
	f.mu.Lock()
	f.seen[cursor]++
	n := f.seen[cursor]
	f.mu.Unlock()
	if n <= f.failures {
		return driven.Page{}, errors.New("connection reset")
	}
	return f.ContainerReader.ReadPage(ctx, query, cursor)
}

func fastReaderConfig() BulkReaderConfig {
	return BulkReaderConfig{RetryDefault: time.Millisecond, ErrorBackoff: time.Millisecond}
}

func TestBulkReader_ReadsEveryDocumentInOrder(t *testing.T) {
	_, source, _ := newTestDatabase(t, 3)
	for _, body := range numberedDocs(10) {
		require.NoError(t, source.Put(body))
	}

	reader := NewBulkReader(source, "", fastReaderConfig())
	var got collector
	require.NoError(t, reader.Run(context.Background(), got.emit))

	assert.Equal(t, source.IDs(), got.ids())
	assert.Equal(t, int64(4), reader.Pages())
	assert.Equal(t, int64(10), reader.Items())
}

func TestBulkReader_EmptyContainer(t *testing.T) {
	_, source, _ := newTestDatabase(t, 3)
	reader := NewBulkReader(source, "", fastReaderConfig())
	var got collector
	require.NoError(t, reader.Run(context.Background(), got.emit))
	assert.Zero(t, got.len())
	assert.Equal(t, int64(1), reader.Pages())
}

func TestBulkReader_ThrottledPagesAreRetried(t *testing.T) {
	_, source, _ := newTestDatabase(t, 2)
	for _, body := range numberedDocs(6) {
		require.NoError(t, source.Put(body))
	}
	source.ThrottleReads("", 3, 0)
	source.ThrottleReads("d0001", 2, 2*time.Millisecond)

	reader := NewBulkReader(source, "", fastReaderConfig())
	var got collector
	require.NoError(t, reader.Run(context.Background(), got.emit))

	assert.Equal(t, source.IDs(), got.ids())
	assert.Equal(t, int64(5), reader.Throttled())
}

func TestBulkReader_TransientErrorsAreRetried(t *testing.T) {
	_, source, _ := newTestDatabase(t, 2)
	for _, body := range numberedDocs(5) {
		require.NoError(t, source.Put(body))
	}

	reader := NewBulkReader(&flakyReader{ContainerReader: source, failures: 2, seen: map[string]int{}}, "", fastReaderConfig())
	var got collector
	require.NoError(t, reader.Run(context.Background(), got.emit))

	assert.Equal(t, source.IDs(), got.ids())
	assert.Equal(t, int64(6), reader.Failures())
}

func TestBulkReader_EmitErrorStopsScan(t *testing.T) {
	_, source, _ := newTestDatabase(t, 2)
	for _, body := range numberedDocs(5) {
		require.NoError(t, source.Put(body))
	}

	boom := errors.New("sink full")
	reader := NewBulkReader(source, "", fastReaderConfig())
	err := reader.Run(context.Background(), func(context.Context, domain.Document) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestBulkReader_CancelledWhileThrottled(t *testing.T) {
	_, source, _ := newTestDatabase(t, 2)
	require.NoError(t, source.Put(`{"id":"1"}`))
	source.ThrottleReads("", 1000, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	reader := NewBulkReader(source, "", fastReaderConfig())
	done := make(chan error, 1)
	go func() {
		var got collector
		done <- reader.Run(ctx, got.emit)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
}

func TestNewBulkReader_Defaults(t *testing.T) {
	reader := NewBulkReader(nil, "", BulkReaderConfig{})
	assert.Equal(t, domain.DefaultRetryAfter, reader.config.RetryDefault)
	assert.Equal(t, time.Second, reader.config.ErrorBackoff)
}
