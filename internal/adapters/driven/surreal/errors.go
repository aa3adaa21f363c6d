package surreal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/carbon-cli/internal/core/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// validateTableName rejects names that cannot be embedded in statements
// that take no parameters, such as SHOW CHANGES.
func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q is not a valid table name", domain.ErrInvalidInput, name)
	}
	return nil
}

// quoteIdent escapes a validated table name for use in SurrealQL.
func quoteIdent(name string) string {
	return "`" + name + "`"
}

// isRetryable reports whether a statement failed because of write
// contention, which SurrealDB asks clients to retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transaction conflict") ||
		strings.Contains(msg, "can be retried") ||
		strings.Contains(msg, "resource busy")
}
