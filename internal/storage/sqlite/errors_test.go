package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

// TestWrapDBError tests the wrapDBError function
func TestWrapDBError(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		err       error
		wantNil   bool
		wantError string
		wantType  error
	}{
		{
			name:    "nil error returns nil",
			op:      "test operation",
			err:     nil,
			wantNil: true,
		},
		{
			name:      "sql.ErrNoRows converted to ErrNotFound",
			op:        "get card",
			err:       sql.ErrNoRows,
			wantError: "get card: not found",
			wantType:  ErrNotFound,
		},
		{
			name:      "generic error wrapped with context",
			op:        "save tree",
			err:       errors.New("database locked"),
			wantError: "save tree: database locked",
		},
		{
			name:     "unique violation becomes ErrConflict",
			op:       "create card",
			err:      errors.New("sqlite3: constraint failed: UNIQUE constraint failed: cards.id"),
			wantType: ErrConflict,
		},
		{
			name:      "already wrapped error preserved",
			op:        "delete tree",
			err:       fmt.Errorf("constraint violation: %w", ErrConflict),
			wantError: "delete tree: constraint violation: already exists",
			wantType:  ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := wrapDBError(tt.op, tt.err)

			if tt.wantNil {
				if result != nil {
					t.Errorf("wrapDBError() = %v, want nil", result)
				}
				return
			}

			if result == nil {
				t.Fatal("wrapDBError() returned nil, want error")
			}

			if tt.wantError != "" && result.Error() != tt.wantError {
				t.Errorf("wrapDBError() error = %q, want %q", result.Error(), tt.wantError)
			}

			if tt.wantType != nil && !errors.Is(result, tt.wantType) {
				t.Errorf("wrapDBError() error doesn't wrap %v", tt.wantType)
			}
		})
	}
}

// TestSQLErrNoRowsConversion tests that sql.ErrNoRows is consistently converted
func TestSQLErrNoRowsConversion(t *testing.T) {
	err1 := wrapDBError("get property", sql.ErrNoRows)
	err2 := wrapDBErrorf(sql.ErrNoRows, "get metadata %s", "key")

	if !errors.Is(err1, ErrNotFound) {
		t.Error("wrapDBError didn't convert sql.ErrNoRows to ErrNotFound")
	}
	if !errors.Is(err2, ErrNotFound) {
		t.Error("wrapDBErrorf didn't convert sql.ErrNoRows to ErrNotFound")
	}
	if err2.Error() != "get metadata key: not found" {
		t.Errorf("err2 message = %q, want %q", err2.Error(), "get metadata key: not found")
	}
}

// TestErrorChaining tests that error chains are preserved through operations
func TestErrorChaining(t *testing.T) {
	root := errors.New("root cause")
	middle := fmt.Errorf("middle layer: %w", root)
	top := wrapDBError("top operation", middle)

	if !errors.Is(top, root) {
		t.Error("top error doesn't wrap root error")
	}
	want := "top operation: middle layer: root cause"
	if top.Error() != want {
		t.Errorf("error message = %q, want %q", top.Error(), want)
	}
}

func TestConstraintClassifiers(t *testing.T) {
	if !IsForeignKeyConstraintError(errors.New("FOREIGN KEY constraint failed")) {
		t.Error("foreign key violation not detected")
	}
	if IsUniqueConstraintError(nil) || IsForeignKeyConstraintError(nil) {
		t.Error("nil error classified as a constraint violation")
	}
}
