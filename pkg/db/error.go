package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonConnection           = "connection"
	ReasonLockTimeout          = "lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonDeadlock             = "deadlock"
	ReasonQueryCanceled        = "query_canceled"
	ReasonBusy                 = "database_busy"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return true
	}

	message := err.Error()
	return strings.Contains(message, "duplicate key value violates unique constraint") ||
		strings.Contains(message, "Error 1062") ||
		strings.Contains(message, "UNIQUE constraint failed")
}

// IsTransient reports whether retrying the same statement later can succeed.
func IsTransient(err error) bool {
	switch Reason(err) {
	case ReasonDeadlineExceeded, ReasonConnection, ReasonLockTimeout,
		ReasonSerializationFailure, ReasonDeadlock, ReasonQueryCanceled, ReasonBusy:
		return true
	}
	return false
}

// Reason maps storage errors to low-cardinality labels.
func Reason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ReasonConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001":
			return ReasonSerializationFailure
		case pgErr.Code == "40P01":
			return ReasonDeadlock
		case pgErr.Code == "55P03":
			return ReasonLockTimeout
		case pgErr.Code == "57014":
			return ReasonQueryCanceled
		case pgErr.Code == "23505":
			return ReasonUniqueViolation
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01":
			return ReasonConnection
		}
		return ReasonUnknown
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ReasonConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ReasonConnection
	}
	if IsDuplicateKeyErr(err) {
		return ReasonUniqueViolation
	}

	message := err.Error()
	if strings.Contains(message, "database is locked") || strings.Contains(message, "SQLITE_BUSY") {
		return ReasonBusy
	}
	if strings.Contains(message, "Error 1213") {
		return ReasonDeadlock
	}
	if strings.Contains(message, "Error 1205") {
		return ReasonLockTimeout
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
