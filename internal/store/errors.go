package store

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/jobledger/internal/apperrors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PostgreSQL SQLSTATE codes the gateway classifies.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
	pgAdminShutdown        = "57P01"
	pgCrashShutdown        = "57P02"
	pgCannotConnectNow     = "57P03"
	pgTooManyConnections   = "53300"
	pgStringTooLong        = "22001"
	pgNumericOutOfRange    = "22003"
	pgNotNullViolation     = "23502"
	pgCheckViolation       = "23514"
)

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// classifyPgError maps a pgx error onto the service's error kinds.
// Errors that are already classified pass through unchanged.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return apperrors.ConcurrentUpdate(op, err)
		case pgQueryCanceled, pgAdminShutdown, pgCrashShutdown, pgCannotConnectNow, pgTooManyConnections:
			return apperrors.Unavailable(op, err)
		case pgStringTooLong, pgNumericOutOfRange, pgNotNullViolation, pgCheckViolation:
			// Input the validator let through but a column rejects.
			return apperrors.Validation(pgErr.ColumnName, pgErr.Message)
		}
		// class 08: connection exception
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return apperrors.Unavailable(op, err)
		}
		return apperrors.Internal(op, err)
	}

	if isUnavailable(err) || pgconn.Timeout(err) {
		return apperrors.Unavailable(op, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperrors.Unavailable(op, err)
	}
	return apperrors.Internal(op, err)
}

// classifySQLiteError maps a modernc sqlite error onto the service's error kinds.
func classifySQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return apperrors.ConcurrentUpdate(op, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL:
			return apperrors.Unavailable(op, err)
		}
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return apperrors.Validation("", sqlErr.Error())
		}
		return apperrors.Internal(op, err)
	}

	if isUnavailable(err) {
		return apperrors.Unavailable(op, err)
	}
	return apperrors.Internal(op, err)
}

// isSQLiteDuplicateKey reports a primary key or unique constraint violation.
func isSQLiteDuplicateKey(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	code := sqlErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
