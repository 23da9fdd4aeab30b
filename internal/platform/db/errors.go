package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraint is non-empty the violated constraint name must match as well.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsSerializationFailure reports whether err aborted because of concurrent
// access to the same rows (serialization failure or deadlock).
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// ResubmitReason names why a rolled-back unit may safely run again from the
// start: "serialization" after a concurrent-update abort, "collision" after a
// unique violation on collisionConstraint. It is empty when err is not
// retryable.
func ResubmitReason(err error, collisionConstraint string) string {
	switch {
	case err == nil:
		return ""
	case IsSerializationFailure(err):
		return "serialization"
	case collisionConstraint != "" && IsUniqueViolation(err, collisionConstraint):
		return "collision"
	}
	return ""
}
