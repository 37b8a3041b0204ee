package service

import (
	"context"
	"errors"
	"fmt"

	"medledger/internal/repository"
)

// ErrorKind identifies why a ledger or catalog operation was rejected.
type ErrorKind string

const (
	// validation: rejected before any transaction is opened
	KindMissingField ErrorKind = "MISSING_FIELD"
	KindInvalidField ErrorKind = "INVALID_FIELD"
	KindEmptyCart    ErrorKind = "EMPTY_CART"
	KindEmptyReturn  ErrorKind = "EMPTY_RETURN"
	KindInvalidItem  ErrorKind = "INVALID_ITEM"

	// business: transaction aborted, nothing written
	KindMedicineNotFound  ErrorKind = "MEDICINE_NOT_FOUND"
	KindMedicineInactive  ErrorKind = "MEDICINE_INACTIVE"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindBillNotFound      ErrorKind = "BILL_NOT_FOUND"
	KindMedicineNotOnBill ErrorKind = "MEDICINE_NOT_ON_BILL"
	KindOverReturn        ErrorKind = "OVER_RETURN"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindConflict          ErrorKind = "CONFLICT"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"

	// infrastructure: the caller may retry
	KindPersistenceFailure ErrorKind = "PERSISTENCE_FAILURE"

	// data integrity: stored data violates an invariant; never retried
	KindDataIntegrity ErrorKind = "DATA_INTEGRITY"
)

// Category groups kinds by how callers should react.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryBusiness       Category = "business"
	CategoryInfrastructure Category = "infrastructure"
	CategoryIntegrity      Category = "integrity"
)

func (k ErrorKind) Category() Category {
	switch k {
	case KindMissingField, KindInvalidField, KindEmptyCart, KindEmptyReturn, KindInvalidItem:
		return CategoryValidation
	case KindPersistenceFailure:
		return CategoryInfrastructure
	case KindDataIntegrity:
		return CategoryIntegrity
	default:
		return CategoryBusiness
	}
}

// LedgerError is the error type returned by every service in this package.
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error

	// transient marks infrastructure failures a fresh transaction may fix.
	transient bool
}

func (e *LedgerError) Error() string {
	if e.Err != nil && e.Kind.Category() == CategoryInfrastructure {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Is matches any LedgerError of the same kind, so errors.Is(err, ErrOverReturn) works.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller may resubmit the same request.
func (e *LedgerError) Retryable() bool {
	return e.Kind == KindPersistenceFailure
}

// Kind sentinels for errors.Is.
var (
	ErrMissingField       = &LedgerError{Kind: KindMissingField}
	ErrInvalidField       = &LedgerError{Kind: KindInvalidField}
	ErrEmptyCart          = &LedgerError{Kind: KindEmptyCart}
	ErrEmptyReturn        = &LedgerError{Kind: KindEmptyReturn}
	ErrInvalidItem        = &LedgerError{Kind: KindInvalidItem}
	ErrMedicineNotFound   = &LedgerError{Kind: KindMedicineNotFound}
	ErrMedicineInactive   = &LedgerError{Kind: KindMedicineInactive}
	ErrInsufficientStock  = &LedgerError{Kind: KindInsufficientStock}
	ErrBillNotFound       = &LedgerError{Kind: KindBillNotFound}
	ErrMedicineNotOnBill  = &LedgerError{Kind: KindMedicineNotOnBill}
	ErrOverReturn         = &LedgerError{Kind: KindOverReturn}
	ErrNotFound           = &LedgerError{Kind: KindNotFound}
	ErrConflict           = &LedgerError{Kind: KindConflict}
	ErrUnauthorized       = &LedgerError{Kind: KindUnauthorized}
	ErrPersistenceFailure = &LedgerError{Kind: KindPersistenceFailure}
	ErrDataIntegrity      = &LedgerError{Kind: KindDataIntegrity}
)

// KindOf returns the kind of err, or "" when err is not a LedgerError.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, details map[string]any) *LedgerError {
	return &LedgerError{Kind: kind, Message: msg, Details: details}
}

func missingField(field string) *LedgerError {
	return newError(KindMissingField, field+" is required", map[string]any{"field": field})
}

func invalidField(field, reason string) *LedgerError {
	return newError(KindInvalidField, field+" "+reason, map[string]any{"field": field})
}

func invalidItem(index int, reason string) *LedgerError {
	return newError(KindInvalidItem, fmt.Sprintf("item %d: %s", index+1, reason), map[string]any{"index": index})
}

func dataIntegrity(msg string, err error) *LedgerError {
	return &LedgerError{Kind: KindDataIntegrity, Message: msg, Err: err}
}

// persistenceFailure wraps an infrastructure error. The message is safe to show
// to clients; the wrapped error is for logs only.
func persistenceFailure(msg string, err error, transient bool) *LedgerError {
	return &LedgerError{Kind: KindPersistenceFailure, Message: msg, Err: err, transient: transient}
}

// classify turns whatever escaped a transaction into a LedgerError.
func classify(err error) *LedgerError {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le
	}
	switch {
	case errors.Is(err, context.Canceled):
		return persistenceFailure("request cancelled", err, false)
	case errors.Is(err, context.DeadlineExceeded):
		return persistenceFailure("transaction timed out", err, true)
	case errors.Is(err, repository.ErrCircuitOpen):
		return persistenceFailure("database temporarily unavailable", err, false)
	case errors.Is(err, repository.ErrStockConflict):
		return persistenceFailure("concurrent stock update", err, true)
	case repository.IsUniqueViolation(err):
		return persistenceFailure("concurrent write conflict", err, true)
	case repository.IsRetryable(err):
		return persistenceFailure("transaction conflict", err, true)
	default:
		return persistenceFailure("database error", err, false)
	}
}

// IsInfrastructureFailure decides what counts against the database circuit
// breaker: business rejections and write contention do not.
func IsInfrastructureFailure(err error) bool {
	if err == nil {
		return false
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind == KindPersistenceFailure
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, repository.ErrStockConflict),
		repository.IsConflict(err),
		repository.IsUniqueViolation(err):
		return false
	}
	return true
}
