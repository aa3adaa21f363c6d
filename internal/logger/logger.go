// Package logger provides verbose logging for the carbon CLI.
// Debug and info messages are printed to stderr only when the --verbose
// flag is set. Warnings are always printed.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// timeFormat prefixes each line so interleaved pipeline stages can be
// told apart.
const timeFormat = "15:04:05.000"

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	now               = time.Now
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer. A nil writer restores os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	logf("DEBUG", false, format, args...)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	logf("INFO", false, format, args...)
}

// Warn prints a warning regardless of verbose mode.
func Warn(format string, args ...any) {
	logf("WARN", true, format, args...)
}

// Section prints a header for a pipeline run if verbose mode is enabled.
func Section(name string) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// logf holds the write lock so concurrent lines never interleave.
func logf(level string, always bool, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose && !always {
		return
	}
	fmt.Fprintf(output, "[%s] %s %s\n", level, now().Format(timeFormat), fmt.Sprintf(format, args...))
}
