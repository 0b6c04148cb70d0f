package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tradejournal/src/database"
	"tradejournal/src/model"
)

type MarketStructureRepository interface {
	Latest(ctx context.Context, symbol, timeframe string) (*model.MarketStructure, error)
	Insert(ctx context.Context, ms *model.MarketStructure) (bool, error)
}

type GormMarketStructureRepository struct {
	db *gorm.DB
}

var _ MarketStructureRepository = (*GormMarketStructureRepository)(nil)

func NewMarketStructureRepository() *GormMarketStructureRepository {
	return &GormMarketStructureRepository{db: database.MainDB}
}

func NewMarketStructureRepositoryWithDB(db *gorm.DB) *GormMarketStructureRepository {
	return &GormMarketStructureRepository{db: db}
}

// Latest returns the newest snapshot, or nil, nil when none is stored.
func (r *GormMarketStructureRepository) Latest(ctx context.Context, symbol, timeframe string) (*model.MarketStructure, error) {
	var ms model.MarketStructure
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp DESC").
		Take(&ms).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ms, nil
}

// Insert appends a snapshot. A row with the same (symbol, timeframe,
// timestamp) is left untouched and false is returned.
func (r *GormMarketStructureRepository) Insert(ctx context.Context, ms *model.MarketStructure) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
			DoNothing: true,
		}).
		Create(ms)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormMarketStructureRepository) CountOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.MarketStructure{}).
		Where("timeframe = ? AND timestamp < ?", timeframe, cutoff).
		Count(&count).Error
	return count, err
}

func (r *GormMarketStructureRepository) DeleteOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("timeframe = ? AND timestamp < ?", timeframe, cutoff).
		Delete(&model.MarketStructure{})
	return res.RowsAffected, res.Error
}

// Symbols lists every symbol with stored snapshots.
func (r *GormMarketStructureRepository) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&model.MarketStructure{}).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &out).Error
	return out, err
}

func (r *GormMarketStructureRepository) CountForSymbolsOlderThan(ctx context.Context, symbols []string, cutoff time.Time) (int64, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.MarketStructure{}).
		Where("symbol IN ? AND timestamp < ?", symbols, cutoff).
		Count(&count).Error
	return count, err
}

func (r *GormMarketStructureRepository) DeleteForSymbolsOlderThan(ctx context.Context, symbols []string, cutoff time.Time) (int64, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("symbol IN ? AND timestamp < ?", symbols, cutoff).
		Delete(&model.MarketStructure{})
	return res.RowsAffected, res.Error
}
