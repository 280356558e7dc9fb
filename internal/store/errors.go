package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/codevault/internal/errors"
)

// Classify wraps driver failures that mean the store cannot serve the call right now
// with perrors.ErrStoreUnavailable. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, perrors.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", perrors.ErrStoreUnavailable, err)
	}
	msg := err.Error()
	for _, marker := range []string{"database is locked", "SQLITE_BUSY", "database is closed", "unable to open database"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", perrors.ErrStoreUnavailable, err)
		}
	}
	return err
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// IsForeignKeyViolation reports whether err came from a FOREIGN KEY constraint.
func IsForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint")
}
