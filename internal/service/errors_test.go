package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"medledger/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		transient bool
	}{
		{"ledger error passes through", newError(KindOverReturn, "too many", nil), KindOverReturn, false},
		{"wrapped ledger error", fmt.Errorf("ctx: %w", dataIntegrity("bad", nil)), KindDataIntegrity, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindPersistenceFailure, true},
		{"deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), KindPersistenceFailure, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindPersistenceFailure, true},
		{"stock conflict", repository.ErrStockConflict, KindPersistenceFailure, true},
		{"attempt timeout", context.DeadlineExceeded, KindPersistenceFailure, true},
		{"caller cancelled", context.Canceled, KindPersistenceFailure, false},
		{"breaker open", repository.ErrCircuitOpen, KindPersistenceFailure, false},
		{"anything else", errors.New("syntax error"), KindPersistenceFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			le := classify(tt.err)
			assert.Equal(t, tt.kind, le.Kind)
			assert.Equal(t, tt.transient, le.transient)
		})
	}
	assert.Nil(t, classify(nil))
}

func TestLedgerError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", newError(KindInsufficientStock, "Insufficient stock for X", map[string]any{"available_stock": 1}))
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrOverReturn))
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestLedgerError_MessageHidesCauseForBusinessKinds(t *testing.T) {
	biz := &LedgerError{Kind: KindBillNotFound, Message: "bill not found", Err: errors.New("record not found")}
	assert.Equal(t, "BILL_NOT_FOUND: bill not found", biz.Error())

	infra := persistenceFailure("database error", errors.New("connection refused"), false)
	assert.Contains(t, infra.Error(), "connection refused")
}

func TestErrorKind_Category(t *testing.T) {
	assert.Equal(t, CategoryValidation, KindEmptyCart.Category())
	assert.Equal(t, CategoryBusiness, KindOverReturn.Category())
	assert.Equal(t, CategoryInfrastructure, KindPersistenceFailure.Category())
	assert.Equal(t, CategoryIntegrity, KindDataIntegrity.Category())
}

func TestIsInfrastructureFailure(t *testing.T) {
	assert.False(t, IsInfrastructureFailure(nil))
	assert.False(t, IsInfrastructureFailure(newError(KindInsufficientStock, "x", nil)))
	assert.False(t, IsInfrastructureFailure(context.Canceled))
	assert.False(t, IsInfrastructureFailure(repository.ErrStockConflict))
	assert.False(t, IsInfrastructureFailure(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsInfrastructureFailure(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsInfrastructureFailure(errors.New("dial tcp: connection refused")))
	assert.True(t, IsInfrastructureFailure(persistenceFailure("database error", nil, false)))
}
