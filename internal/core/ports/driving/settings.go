package driving

import "github.com/custodia-labs/carbon-cli/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings with defaults applied.
	Get() (*domain.Settings, error)

	// Set stores a single setting from its textual form.
	// Returns domain.ErrInvalidInput for unknown keys or unparsable values.
	Set(key, value string) error

	// Keys lists every supported setting key.
	Keys() []string

	// Lookup returns the effective textual value of a setting.
	Lookup(key string) (string, error)

	// Validate checks the current settings.
	Validate() error
}
