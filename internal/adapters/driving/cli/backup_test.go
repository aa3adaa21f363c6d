package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
	"github.com/custodia-labs/carbon-cli/internal/core/ports/driving"
)

func TestBackupCmd_Use(t *testing.T) {
	assert.Equal(t, "backup [container]", backupCmd.Use)
}

func TestBackupCmd_PrintsSummary(t *testing.T) {
	ts := setupServices(t)

	out, err := executeCommand("backup", "orders")

	require.NoError(t, err)
	assert.Contains(t, out, "Capturing orders...")
	assert.Contains(t, out, "Snapshot snap-1 complete in 1.5s")
	assert.Contains(t, out, "Documents: 42 (40 bulk, 2 tail)")
	assert.Contains(t, out, "/tmp/snaps/snap-1")
	require.Len(t, ts.backup.requests, 1)
	assert.Equal(t, driving.BackupRequest{Container: "orders"}, ts.backup.requests[0])
}

func TestBackupCmd_FlagsOverrideSettings(t *testing.T) {
	ts := setupServices(t)
	require.NoError(t, ts.settings.Set("source.url", "sqlite:///var/lib/carbon.db"))
	require.NoError(t, ts.settings.Set("snapshot.dir", "/from/config"))

	_, err := executeCommand("backup", "orders",
		"--source", "memory://?seed=10",
		"--query", "region = 'eu'",
		"--backend", "file-single")

	require.NoError(t, err)
	require.NotNil(t, ts.backupSettings)
	assert.Equal(t, "memory://?seed=10", ts.backupSettings.Source.URL)
	assert.Equal(t, domain.BackendFileSingle, ts.backupSettings.Snapshot.Backend)
	assert.Equal(t, "/from/config", ts.backupSettings.Snapshot.Dir)
	assert.Equal(t, "region = 'eu'", ts.backup.requests[0].Query)
}

func TestBackupCmd_ContainerFromSettings(t *testing.T) {
	ts := setupServices(t)
	require.NoError(t, ts.settings.Set("source.container", "invoices"))

	_, err := executeCommand("backup")

	require.NoError(t, err)
	assert.Equal(t, "invoices", ts.backup.requests[0].Container)
}

func TestBackupCmd_RequiresContainer(t *testing.T) {
	setupServices(t)

	_, err := executeCommand("backup")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container given")
}

func TestBackupCmd_RejectsUnknownBackend(t *testing.T) {
	setupServices(t)

	_, err := executeCommand("backup", "orders", "--backend", "tape")

	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestBackupCmd_ReportsFailure(t *testing.T) {
	ts := setupServices(t)
	ts.backup.result = nil
	ts.backup.err = errors.New("source unavailable")

	_, err := executeCommand("backup", "orders")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup failed: source unavailable")
}

func TestBackupCmd_NotConfigured(t *testing.T) {
	setupServices(t)
	openBackup = nil

	_, err := executeCommand("backup", "orders")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup service not configured")
}

func TestBackupCmd_Every(t *testing.T) {
	ts := setupServices(t)

	out, err := executeCommand("backup", "orders", "--every", "1h", "--keep", "3")

	require.NoError(t, err)
	require.NotNil(t, ts.schedule)
	assert.Equal(t, time.Hour, ts.schedule.Interval)
	assert.Equal(t, 3, ts.schedule.Keep)
	assert.Contains(t, out, "Capturing orders every 1h0m0s (keeping 3)")
	assert.Contains(t, out, "snapshot snap-orders in 1s, pruned 1")
	assert.Contains(t, out, "Stopped.")
}
