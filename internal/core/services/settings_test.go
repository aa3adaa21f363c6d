package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

func TestNewSettingsService(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)

	require.NotNil(t, service)
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), *settings)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"source.url":                      "sqlite:///tmp/source.db",
		"snapshot.backend":                "gcs",
		"snapshot.bucket":                 "backups",
		"pipeline.parallelism":            int64(8),
		"pipeline.retry_default_ms":       int64(250),
		"pipeline.max_upserts_per_second": 50.5,
		"destination.drop_if_exists":      true,
		"schedule.interval":               "30m",
	})
	service := NewSettingsService(store)

	settings, err := service.Get()

	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/source.db", settings.Source.URL)
	assert.Equal(t, domain.BackendGCS, settings.Snapshot.Backend)
	assert.Equal(t, "backups", settings.Snapshot.Bucket)
	assert.Equal(t, 8, settings.Pipeline.Parallelism)
	assert.Equal(t, 250*time.Millisecond, settings.Pipeline.RetryDefault)
	assert.InDelta(t, 50.5, settings.Pipeline.MaxUpsertsPerSecond, 0.001)
	assert.True(t, settings.Destination.DropIfExists)
	assert.Equal(t, 30*time.Minute, settings.Schedule.Interval)
}

func TestSettingsService_Get_InvalidValuesReturnDefaults(t *testing.T) {
	store := memory.NewConfigStore(map[string]any{
		"snapshot.backend":          "tape",
		"pipeline.parallelism":      "many",
		"pipeline.retry_default_ms": int64(-5),
		"schedule.interval":         "soon",
	})
	service := NewSettingsService(store)

	settings, err := service.Get()

	require.NoError(t, err)
	defaults := domain.DefaultSettings()
	assert.Equal(t, defaults.Snapshot.Backend, settings.Snapshot.Backend)
	assert.Equal(t, defaults.Pipeline.Parallelism, settings.Pipeline.Parallelism)
	assert.Equal(t, defaults.Pipeline.RetryDefault, settings.Pipeline.RetryDefault)
	assert.Equal(t, defaults.Schedule.Interval, settings.Schedule.Interval)
}

func TestSettingsService_Set(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)

	require.NoError(t, service.Set("pipeline.write_capacity", "250"))
	require.NoError(t, service.Set("destination.drop_if_exists", "true"))
	require.NoError(t, service.Set("snapshot.backend", "sqlite"))
	require.NoError(t, service.Set("pipeline.retry_default_ms", "40"))
	require.NoError(t, service.Set("destination.partition_key", "/tenant/id"))

	settings, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, 250, settings.Pipeline.WriteCapacity)
	assert.True(t, settings.Destination.DropIfExists)
	assert.Equal(t, domain.BackendSQLite, settings.Snapshot.Backend)
	assert.Equal(t, 40*time.Millisecond, settings.Pipeline.RetryDefault)
	assert.Equal(t, "/tenant/id", settings.Destination.PartitionKeyPath)
}

func TestSettingsService_Set_Rejects(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())

	tests := []struct {
		name  string
		key   string
		value string
		want  error
	}{
		{"unknown key", "search.mode", "hybrid", domain.ErrInvalidInput},
		{"not an int", "pipeline.parallelism", "three", domain.ErrInvalidInput},
		{"not a bool", "destination.drop_if_exists", "maybe", domain.ErrInvalidInput},
		{"bad duration", "schedule.interval", "often", domain.ErrInvalidInput},
		{"zero retry", "pipeline.retry_default_ms", "0", domain.ErrInvalidInput},
		{"unknown backend", "snapshot.backend", "tape", domain.ErrUnsupportedType},
		{"bad partition key", "destination.partition_key", "/tenant//id", domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, service.Set(tt.key, tt.value), tt.want)
		})
	}
}

func TestSettingsService_Lookup(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	require.NoError(t, service.Set("surreal.password", "hunter2"))

	value, err := service.Lookup("pipeline.parallelism")
	require.NoError(t, err)
	assert.Equal(t, "3", value)

	value, err = service.Lookup("pipeline.retry_default_ms")
	require.NoError(t, err)
	assert.Equal(t, "100ms", value)

	value, err = service.Lookup("surreal.password")
	require.NoError(t, err)
	assert.Equal(t, "********", value)

	_, err = service.Lookup("nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsService_Keys(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	keys := service.Keys()

	assert.Contains(t, keys, "snapshot.backend")
	assert.Contains(t, keys, "pipeline.parallelism")
	assert.IsIncreasing(t, keys)
}

func TestSettingsService_Validate(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	require.NoError(t, service.Validate())

	require.NoError(t, service.Set("snapshot.backend", "gcs"))
	assert.ErrorIs(t, service.Validate(), domain.ErrInvalidInput)

	require.NoError(t, service.Set("snapshot.bucket", "backups"))
	assert.NoError(t, service.Validate())
}
