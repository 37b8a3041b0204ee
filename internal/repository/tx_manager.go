package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// TransactionManager manages database transactions via context injection.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

// NewTransactionManager returns a manager that opens every transaction at the
// given isolation level. sql.LevelDefault leaves the server default in place.
func NewTransactionManager(db *gorm.DB, isolation sql.IsolationLevel) TransactionManager {
	return &transactionManager{db: db, isolation: isolation}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	// Join an outer transaction instead of nesting a savepoint.
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}

	var opts *sql.TxOptions
	if t.isolation != sql.LevelDefault {
		opts = &sql.TxOptions{Isolation: t.isolation}
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	}, opts)
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}

// ErrCircuitOpen is returned while the breaker rejects transactions.
var ErrCircuitOpen = errors.New("database circuit breaker is open")

// BreakerConfig tunes NewBreakerTransactionManager.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	// OnStateChange, when set, is called after every transition (metrics hook).
	OnStateChange func(name string, to gobreaker.State)
}

// DefaultBreakerConfig trips after 5 consecutive infrastructure failures and
// probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "postgres",
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

type breakerTransactionManager struct {
	inner TransactionManager
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerTransactionManager guards inner with a circuit breaker. Only errors
// for which isFailure returns true count against the breaker, so business
// rejections (insufficient stock, over-return) never trip it.
func NewBreakerTransactionManager(inner TransactionManager, cfg BreakerConfig, isFailure func(error) bool, logger *slog.Logger) TransactionManager {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
	}
	return &breakerTransactionManager{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerTransactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.RunInTx(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
