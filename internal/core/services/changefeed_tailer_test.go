package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

func TestChangeFeedTailer_ForwardsChanges(t *testing.T) {
	ctx := context.Background()
	_, source, _ := newTestDatabase(t, 10)
	require.NoError(t, source.Put(`{"id":"old"}`))

	tailer := NewChangeFeedTailer(source, domain.LeaseContainerName("source"))
	var got collector
	require.NoError(t, tailer.Start(ctx, got.emit))
	require.NoError(t, tailer.Start(ctx, got.emit))

	require.NoError(t, source.Put(`{"id":"a"}`))
	require.NoError(t, source.Put(`{"id":"b"}`))

	assert.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, tailer.Stop(ctx))
	require.NoError(t, tailer.Stop(ctx))

	assert.Equal(t, []string{"a", "b"}, got.ids())
	assert.Equal(t, int64(2), tailer.Received())
	assert.NoError(t, tailer.Err())
}

func TestChangeFeedTailer_StopBeforeStart(t *testing.T) {
	ctx := context.Background()
	_, source, _ := newTestDatabase(t, 10)

	tailer := NewChangeFeedTailer(source, domain.LeaseContainerName("source"))
	assert.Nil(t, tailer.Done())
	require.NoError(t, tailer.Stop(ctx))

	var got collector
	assert.ErrorIs(t, tailer.Start(ctx, got.emit), domain.ErrClosed)
}

func TestChangeFeedTailer_MissingLease(t *testing.T) {
	_, source, _ := newTestDatabase(t, 10)
	tailer := NewChangeFeedTailer(source, "nope")
	var got collector
	assert.ErrorIs(t, tailer.Start(context.Background(), got.emit), domain.ErrNotFound)
}
