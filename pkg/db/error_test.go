package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestReason(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		want      string
		transient bool
	}{
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded, transient: true},
		{name: "bad conn", err: driver.ErrBadConn, want: ReasonConnection, transient: true},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ReasonDeadlock, transient: true},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonLockTimeout, transient: true},
		{name: "connection class", err: &pgconn.PgError{Code: "08006"}, want: ReasonConnection, transient: true},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: ReasonBusy, transient: true},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "syntax", err: &pgconn.PgError{Code: "42601"}, want: ReasonUnknown},
		{name: "plain", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
			if got := IsTransient(tc.err); got != tc.transient {
				t.Fatalf("expected transient=%v, got %v", tc.transient, got)
			}
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	if !IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: settlement_events.provider")) {
		t.Fatalf("expected sqlite unique error to match")
	}
	if IsDuplicateKeyErr(nil) {
		t.Fatalf("nil must not match")
	}
}
