package surreal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

func TestValidateTableName(t *testing.T) {
	for _, name := range []string{"orders", "orders-leases", "_tmp", "T1", "1orders"} {
		assert.NoError(t, validateTableName(name), name)
	}
	for _, name := range []string{"", "-orders", "orders`", "orders; REMOVE TABLE x", "a b"} {
		assert.ErrorIs(t, validateTableName(name), domain.ErrInvalidInput, name)
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`orders-leases`", quoteIdent("orders-leases"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(errors.New("parse error")))
	assert.True(t, isRetryable(errors.New("Transaction conflict: Resource busy")))
	assert.True(t, isRetryable(errors.New("This transaction can be retried")))
}

func TestDocuments_ExtractsUpdates(t *testing.T) {
	sets := []changeSet{
		{Versionstamp: 1, Changes: []change{{}}},
		{Versionstamp: 2, Changes: []change{
			{Update: map[string]any{"key": "1", "body": `{"id":"1","v":1}`}},
			{Update: map[string]any{"key": "2", "body": `{"id":"2"}`}},
		}},
		{Versionstamp: 3, Changes: []change{
			{Update: map[string]any{"key": "1", "body": `{"id":"1","v":2}`}},
			{Update: map[string]any{"name": "no body"}},
		}},
	}

	docs := documents(sets)
	require.Len(t, docs, 3)
	assert.Equal(t, "1", docs[0].ID)
	assert.JSONEq(t, `{"id":"1","v":1}`, string(docs[0].Body))
	assert.Equal(t, "2", docs[1].ID)
	assert.JSONEq(t, `{"id":"1","v":2}`, string(docs[2].Body))
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
