package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnsupportedType", ErrUnsupportedType},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrClosed", ErrClosed},
		{"ErrCaptureInProgress", ErrCaptureInProgress},
		{"ErrCaptureCancelled", ErrCaptureCancelled},
		{"ErrWaitTimeout", ErrWaitTimeout},
		{"ErrSnapshotIncomplete", ErrSnapshotIncomplete},
		{"ErrNoPartitionKey", ErrNoPartitionKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

// TestErrRateLimited_Wrapped tests classification through wrapping
func TestErrRateLimited_Wrapped(t *testing.T) {
	err := fmt.Errorf("read page: %w", ErrRateLimited)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrNotFound))
}
