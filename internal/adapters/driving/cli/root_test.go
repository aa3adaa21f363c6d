package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/carbon-cli/internal/logger"
)

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "carbon", rootCmd.Use)
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"backup", "restore", "snapshot", "settings", "version"})
}

func TestRootCmd_VerboseEnablesDebugLogs(t *testing.T) {
	setupServices(t)
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() {
		logger.SetVerbose(false)
		logger.SetOutput(os.Stderr)
	})

	_, err := executeCommand("--verbose", "settings", "get", "source.url")
	require.NoError(t, err)
	assert.True(t, logger.IsVerbose())

	_, err = executeCommand("settings", "get", "source.url")
	require.NoError(t, err)
	assert.False(t, logger.IsVerbose())
}

func TestSetConfig_NilIsIgnored(t *testing.T) {
	ts := setupServices(t)

	SetConfig(nil)

	assert.Same(t, ts.settings, settingsService)
}

func TestSetVersion(t *testing.T) {
	original := version
	t.Cleanup(func() { version = original })

	SetVersion("")
	assert.Equal(t, original, version)

	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", version)
}
