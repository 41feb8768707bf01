package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"simplemes/errs"
)

// IsUniqueViolation reports whether err is a unique constraint failure on
// either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to an errs NotFound and passes other errors
// through.
func notFound(err error, op, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(op, format, args...).Wrap(err)
	}
	return err
}

// conflict maps unique violations to an errs Conflict.
func conflict(err error, op, code, format string, args ...any) error {
	if IsUniqueViolation(err) {
		e := errs.Conflict(op, format, args...).Wrap(err)
		if code != "" {
			e = e.WithCode(code)
		}
		return e
	}
	return err
}
