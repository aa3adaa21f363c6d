package memory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

func newTestContainer(t *testing.T, pageSize int) (*Database, *Container) {
	t.Helper()
	db := NewDatabase(pageSize)
	c, err := db.Create(domain.ContainerConfiguration{
		Name:             "orders",
		PartitionKeyPath: domain.PartitionKeyPath{"id"},
		Throughput:       10000,
	})
	require.NoError(t, err)
	return db, c
}

func TestDatabase_CreateAndDrop(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestContainer(t, 10)

	exists, err := db.ContainerExists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, exists)

	err = db.CreateContainer(ctx, domain.ContainerConfiguration{Name: "orders", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: 400})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	require.NoError(t, db.DropContainer(ctx, "orders"))
	require.NoError(t, db.DropContainer(ctx, "orders"))

	_, err = db.Container(ctx, "orders")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, db.Names())
}

func TestDatabase_CreateContainer_InvalidConfig(t *testing.T) {
	db := NewDatabase(0)
	err := db.CreateContainer(context.Background(), domain.ContainerConfiguration{Name: "x", Throughput: 400})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestContainer_ReadPage_PagesInIDOrder(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContainer(t, 2)
	for _, body := range []string{`{"id":"3"}`, `{"id":"1"}`, `{"id":"2"}`} {
		require.NoError(t, c.Put(body))
	}

	var ids []string
	cursor := ""
	for {
		page, err := c.ReadPage(ctx, "", cursor)
		require.NoError(t, err)
		for _, doc := range page.Items {
			ids = append(ids, doc.ID)
		}
		if page.Continuation == "" {
			break
		}
		cursor = page.Continuation
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, 2, c.Reads())
}

func TestContainer_ReadPage_Empty(t *testing.T) {
	_, c := newTestContainer(t, 2)
	page, err := c.ReadPage(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.Continuation)
}

func TestContainer_ReadPage_WarnsOnIgnoredQuery(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(nil) })

	ctx := context.Background()
	_, c := newTestContainer(t, 1)
	require.NoError(t, c.Put(`{"id":"1","tenant":"x"}`))
	require.NoError(t, c.Put(`{"id":"2","tenant":"y"}`))

	page, err := c.ReadPage(ctx, "tenant = 'x'", "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	_, err = c.ReadPage(ctx, "tenant = 'x'", page.Continuation)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(buf.String(), "[WARN]"))
	assert.Contains(t, buf.String(), `query "tenant = 'x'" ignored`)
}

func TestContainer_ThrottleReads(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContainer(t, 10)
	require.NoError(t, c.Put(`{"id":"1"}`))
	c.ThrottleReads("", 2, 5*time.Millisecond)

	for i := 0; i < 2; i++ {
		page, err := c.ReadPage(ctx, "", "")
		require.NoError(t, err)
		assert.True(t, page.RateLimited)
		assert.Equal(t, 5*time.Millisecond, page.RetryAfter)
		assert.Empty(t, page.Items)
	}
	page, err := c.ReadPage(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, page.RateLimited)
	assert.Len(t, page.Items, 1)
}

func TestContainer_Upsert(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContainer(t, 10)

	res, err := c.Upsert(ctx, domain.StringPartitionKey("1"), []byte(`{"id":"1","v":1}`))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.Upsert(ctx, domain.StringPartitionKey("1"), []byte(`{"id":"1","v":2}`))
	require.NoError(t, err)
	assert.True(t, res.Success)

	body, ok := c.Document("1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"1","v":2}`, string(body))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestContainer_Upsert_ScriptedOutcomes(t *testing.T) {
	ctx := context.Background()
	_, c := newTestContainer(t, 10)
	c.ThrottleWrites("t", 1, time.Millisecond)
	c.RejectWrites("r", "409 conflict")

	res, err := c.Upsert(ctx, domain.NoPartitionKey, []byte(`{"id":"t"}`))
	require.NoError(t, err)
	assert.True(t, res.RateLimited)
	assert.Equal(t, time.Millisecond, res.RetryAfter)

	res, err = c.Upsert(ctx, domain.NoPartitionKey, []byte(`{"id":"t"}`))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.Upsert(ctx, domain.NoPartitionKey, []byte(`{"id":"r"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "409 conflict", res.Status)

	res, err = c.Upsert(ctx, domain.NoPartitionKey, []byte(`not json`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 4, c.Upserts())
}

func TestContainer_Upsert_ThroughputLimit(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase(0)
	c, err := db.Create(domain.ContainerConfiguration{Name: "slow", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: domain.MinThroughput})
	require.NoError(t, err)

	throttled := 0
	for i := 0; i < domain.MinThroughput+20; i++ {
		res, err := c.Upsert(ctx, domain.NoPartitionKey, []byte(`{"id":"x"}`))
		require.NoError(t, err)
		if res.RateLimited {
			throttled++
			assert.Positive(t, res.RetryAfter)
		}
	}
	assert.Positive(t, throttled)
}

func TestContainer_Seed(t *testing.T) {
	_, c := newTestContainer(t, 10)
	require.NoError(t, c.Seed(25))
	assert.Len(t, c.IDs(), 25)
	assert.Equal(t, "doc-000000", c.IDs()[0])
}

func TestContainer_ChangeFeed_DeliversWritesAfterStart(t *testing.T) {
	ctx := context.Background()
	db, c := newTestContainer(t, 10)
	_, err := db.Create(domain.ContainerConfiguration{Name: "orders-leases", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: 400})
	require.NoError(t, err)
	require.NoError(t, c.Put(`{"id":"before"}`))

	var mu sync.Mutex
	var got []string
	handle, err := c.StartChangeFeed(ctx, "orders-leases", func(_ context.Context, docs []domain.Document) error {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range docs {
			got = append(got, d.ID)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Put(`{"id":"a"}`))
	require.NoError(t, c.Put(`{"id":"b"}`))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, handle.Stop(ctx))
	require.NoError(t, handle.Stop(ctx))
	<-handle.Done()
	assert.NoError(t, handle.Err())

	require.NoError(t, c.Put(`{"id":"after"}`))
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, got)
	mu.Unlock()

	leases, err := db.Get("orders-leases")
	require.NoError(t, err)
	checkpoint, ok := leases.Document("orders")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"orders","position":3}`, string(checkpoint))
}

func TestContainer_ChangeFeed_RequiresLeaseContainer(t *testing.T) {
	_, c := newTestContainer(t, 10)
	_, err := c.StartChangeFeed(context.Background(), "missing", func(context.Context, []domain.Document) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContainer_ChangeFeed_HandlerErrorEndsFeed(t *testing.T) {
	ctx := context.Background()
	db, c := newTestContainer(t, 10)
	_, err := db.Create(domain.ContainerConfiguration{Name: "leases", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: 400})
	require.NoError(t, err)

	boom := errors.New("boom")
	handle, err := c.StartChangeFeed(ctx, "leases", func(context.Context, []domain.Document) error { return boom })
	require.NoError(t, err)
	require.NoError(t, c.Put(`{"id":"a"}`))

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("feed did not end")
	}
	assert.ErrorIs(t, handle.Err(), boom)
}

func TestContainer_ChangeFeed_DropFailsFeed(t *testing.T) {
	ctx := context.Background()
	db, c := newTestContainer(t, 10)
	_, err := db.Create(domain.ContainerConfiguration{Name: "leases", PartitionKeyPath: domain.PartitionKeyPath{"id"}, Throughput: 400})
	require.NoError(t, err)

	handle, err := c.StartChangeFeed(ctx, "leases", func(context.Context, []domain.Document) error { return nil })
	require.NoError(t, err)
	require.NoError(t, db.DropContainer(ctx, "orders"))

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("feed did not end")
	}
	assert.ErrorIs(t, handle.Err(), domain.ErrClosed)
}
