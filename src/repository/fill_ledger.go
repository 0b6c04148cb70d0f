package repository

import (
	"context"

	"gorm.io/gorm"
	"tradejournal/src/database"
)

// FillLedger runs fn with trade and execution repositories that write as one
// unit: either every write inside fn is kept or none is.
type FillLedger interface {
	Atomic(ctx context.Context, fn func(trades TradeRepository, executions ExecutionRepository) error) error
}

// GormFillLedger binds both repositories to a single transaction.
type GormFillLedger struct {
	db *gorm.DB
}

var _ FillLedger = (*GormFillLedger)(nil)

func NewFillLedger() *GormFillLedger {
	return &GormFillLedger{db: database.MainDB}
}

func NewFillLedgerWithDB(db *gorm.DB) *GormFillLedger {
	return &GormFillLedger{db: db}
}

func (l *GormFillLedger) Atomic(ctx context.Context, fn func(trades TradeRepository, executions ExecutionRepository) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewTradeRepositoryWithDB(tx), NewExecutionRepositoryWithDB(tx))
	})
}

// DirectFillLedger calls fn with the given repositories and no transaction.
// It serves stores that have no transactional backend.
type DirectFillLedger struct {
	trades     TradeRepository
	executions ExecutionRepository
}

func NewDirectFillLedger(trades TradeRepository, executions ExecutionRepository) *DirectFillLedger {
	return &DirectFillLedger{trades: trades, executions: executions}
}

func (l *DirectFillLedger) Atomic(_ context.Context, fn func(trades TradeRepository, executions ExecutionRepository) error) error {
	return fn(l.trades, l.executions)
}
