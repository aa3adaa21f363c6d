// Package driving defines the use cases the CLI and the replay view call
// into: backup, restore, snapshot management, scheduling and settings.
//
// Implementations live in internal/core/services.
package driving
