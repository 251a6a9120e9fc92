package stores

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type contextKey string

const TxKey contextKey = "tx"

var (
	// ErrTransitionConflict means a conditional write matched no row: the
	// record was not in an allowed predecessor state. The caller must
	// re-read and decide whether the race was benign.
	ErrTransitionConflict = errors.New("transition conflict: record not in an allowed predecessor state")
	ErrInvalidTransition  = errors.New("invalid transition: no predecessor states defined for target status")
	ErrNotFound           = errors.New("record not found")
)

type BaseStore struct {
	db *gorm.DB
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, TxKey, tx)
		return fn(txCtx)
	})
}
