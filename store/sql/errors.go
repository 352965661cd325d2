package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

// mapWriteError turns unique index violations into conflicts.
func mapWriteError(err error, message string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return core.WrapError(err, goerrors.CategoryConflict, core.ErrorConflict, "sqlstore: "+message)
	}
	return err
}

// mapReadError keeps core.ErrNotFound reachable for missing rows.
func mapReadError(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(format, args...)
	}
	return err
}

func notFound(format string, args ...any) error {
	return core.WrapError(core.ErrNotFound, goerrors.CategoryNotFound, core.ErrorNotFound, "sqlstore: "+fmt.Sprintf(format, args...))
}

func notConfigured(name string) error {
	return fmt.Errorf("sqlstore: %s store is not configured", name)
}
