package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateUniqueViolation      = "23505"
)

// IsSerializationFailure reports whether err is a Postgres abort that is safe
// to retry by re-running the whole transaction.
func IsSerializationFailure(err error) bool {
	switch pkgerrors.SQLState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return false
}

// IsLockTimeout reports whether a statement gave up waiting on lock_timeout.
func IsLockTimeout(err error) bool {
	return pkgerrors.SQLState(err) == sqlStateLockNotAvailable
}

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. When constraintName is provided, the helper looks for
// the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	if pkgerrors.SQLState(err) == sqlStateUniqueViolation {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
