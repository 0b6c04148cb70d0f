package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tradejournal/src/database"
	"tradejournal/src/model"
)

type ExecutionRepository interface {
	InsertIgnore(ctx context.Context, e *model.RawExecution) (bool, error)
	TradedSymbols(ctx context.Context, since time.Time, minCount int) ([]string, error)
}

type GormExecutionRepository struct {
	db *gorm.DB
}

var _ ExecutionRepository = (*GormExecutionRepository)(nil)

func NewExecutionRepository() *GormExecutionRepository {
	return &GormExecutionRepository{db: database.MainDB}
}

func NewExecutionRepositoryWithDB(db *gorm.DB) *GormExecutionRepository {
	return &GormExecutionRepository{db: db}
}

// InsertIgnore appends a raw fill. It returns false when (exchange,
// execution_id) was already recorded.
func (r *GormExecutionRepository) InsertIgnore(ctx context.Context, e *model.RawExecution) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exchange"}, {Name: "execution_id"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TradedSymbols lists symbols with at least minCount Trade executions since.
func (r *GormExecutionRepository) TradedSymbols(ctx context.Context, since time.Time, minCount int) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&model.RawExecution{}).
		Where("exec_type = ? AND executed_at >= ?", model.ExecTypeTrade, since).
		Group("symbol").
		Having("COUNT(*) >= ?", minCount).
		Order("symbol").
		Pluck("symbol", &out).Error
	return out, err
}

// SymbolsActiveSince lists symbols with any execution at or after since.
func (r *GormExecutionRepository) SymbolsActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&model.RawExecution{}).
		Distinct("symbol").
		Where("executed_at >= ?", since).
		Pluck("symbol", &out).Error
	return out, err
}
