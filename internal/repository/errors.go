package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStockConflict is returned when a conditional stock update matched no row,
	// i.e. applying the delta would have taken stock below zero.
	ErrStockConflict = errors.New("stock update rejected: would go below zero")
)

// Postgres SQLSTATE codes the ledger cares about.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryable reports whether a fresh attempt of the whole transaction may succeed:
// serialization conflicts, deadlocks, lock/statement timeouts and connection
// failures that happened before anything was sent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// IsConflict reports write contention between transactions (serialization
// failure or deadlock), as opposed to the database being unhealthy.
func IsConflict(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}

// IsUniqueViolation reports a unique index violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation || errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsCheckViolation reports a CHECK constraint violation (SQLSTATE 23514).
func IsCheckViolation(err error) bool {
	return pgCode(err) == pgCheckViolation || errors.Is(err, gorm.ErrCheckConstraintViolated)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
