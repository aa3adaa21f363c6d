package gcs

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// isRateLimited reports whether the service asked the client to slow down.
func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusServiceUnavailable
	}
	return false
}

// isNotFound reports whether the object or bucket does not exist.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	return false
}
