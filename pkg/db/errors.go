package db

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
)

const (
	sqlStateCheckViolation = "23514"
	sqlStateQueryCanceled  = "57014"
)

// IsCheckViolation reports whether err is a Postgres CHECK violation. When
// constraintName is set only that constraint matches. SQLite reports the
// constraint in the message text, which is matched as a fallback.
func IsCheckViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if pg, ok := pkgerrors.Postgres(err); ok {
		return pg.Code == sqlStateCheckViolation && (constraintName == "" || pg.Constraint == constraintName)
	}
	msg := err.Error()
	if !strings.Contains(msg, "CHECK constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsTimeout reports whether err came from a deadline on the statement or
// transaction context. Postgres reports a cancelled statement as 57014.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pg, ok := pkgerrors.Postgres(err); ok && pg.Code == sqlStateQueryCanceled {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "canceling statement due to user request") ||
		strings.Contains(msg, "SQLSTATE 57014")
}

// IsCommitFailure reports whether err came from COMMIT rather than from the
// work inside the transaction.
func IsCommitFailure(err error) bool {
	return errors.Is(err, ErrCommit)
}
