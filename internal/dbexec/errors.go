package dbexec

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"resource-orm/internal/ormerr"
)

// NormalizeError maps driver-specific failures onto the shared error taxonomy.
// Errors that already carry a kind pass through unchanged.
func NormalizeError(err error, action string) error {
	if err == nil {
		return nil
	}
	var typed *ormerr.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ormerr.Wrap(ormerr.KindDoesNotExist, err, "%s: resource does not exist", action)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return ormerr.Wrap(ormerr.KindAlreadyExists, err, "%s: unique constraint violated", action)
		case 1451, 1452:
			return ormerr.Wrap(ormerr.KindDoesNotExist, err, "%s: referenced resource does not exist", action)
		case 1048, 1364:
			return ormerr.Wrap(ormerr.KindMissingField, err, "%s: required column is missing", action)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ormerr.Wrap(ormerr.KindAlreadyExists, err, "%s: unique constraint violated", action)
		case "23503":
			return ormerr.Wrap(ormerr.KindDoesNotExist, err, "%s: referenced resource does not exist", action)
		case "23502":
			return ormerr.Wrap(ormerr.KindMissingField, err, "%s: required column is missing", action)
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ormerr.Wrap(ormerr.KindAlreadyExists, err, "%s: unique constraint violated", action)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ormerr.Wrap(ormerr.KindDoesNotExist, err, "%s: referenced resource does not exist", action)
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return ormerr.Wrap(ormerr.KindMissingField, err, "%s: required column is missing", action)
		}
	}

	return ormerr.Wrap(ormerr.KindUnexpected, err, "%s: database error", action)
}
