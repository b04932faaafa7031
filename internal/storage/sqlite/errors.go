package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// Sentinel errors for common database conditions. They alias the engine
// and storage sentinels so callers can branch without importing sqlite.
var (
	// ErrNotFound indicates the requested row was not found in the database
	ErrNotFound = types.ErrNotFound

	// ErrConflict indicates a unique constraint violation
	ErrConflict = storage.ErrAlreadyExists
)

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to ErrNotFound and UNIQUE violations to
// ErrConflict for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if IsUniqueConstraintError(err) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// IsUniqueConstraintError checks if an error is a UNIQUE constraint violation
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyConstraintError checks if an error is a FOREIGN KEY constraint violation
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "foreign key constraint failed")
}
