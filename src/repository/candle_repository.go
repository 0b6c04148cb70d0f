package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tradejournal/src/database"
	"tradejournal/src/model"
)

// CandleRepository caches fetched candles per (symbol, timeframe).
type CandleRepository interface {
	InsertIgnore(ctx context.Context, timeframe string, candles []model.Candle) (int64, error)
	Recent(ctx context.Context, symbol, timeframe string, to time.Time, limit int) ([]model.Candle, error)
}

type GormCandleRepository struct {
	db *gorm.DB
}

var _ CandleRepository = (*GormCandleRepository)(nil)

func NewCandleRepository() *GormCandleRepository {
	return &GormCandleRepository{db: database.MainDB}
}

func NewCandleRepositoryWithDB(db *gorm.DB) *GormCandleRepository {
	return &GormCandleRepository{db: db}
}

// InsertIgnore stores candles, skipping bars already cached. It returns the
// number of new rows.
func (r *GormCandleRepository) InsertIgnore(ctx context.Context, timeframe string, candles []model.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := make([]model.OHLCV, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, model.NewOHLCV(timeframe, c))
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "datetime"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 200)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Recent returns up to limit bars at or before to, oldest first.
func (r *GormCandleRepository) Recent(ctx context.Context, symbol, timeframe string, to time.Time, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows []model.OHLCV
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND datetime <= ?", symbol, timeframe, to).
		Order("datetime DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// reverse to ascending chronological order for the detectors
	out := make([]model.Candle, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.Candle()
	}
	return out, nil
}

func (r *GormCandleRepository) CountOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.OHLCV{}).
		Where("timeframe = ? AND datetime < ?", timeframe, cutoff).
		Count(&n).Error
	return n, err
}

func (r *GormCandleRepository) DeleteOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("timeframe = ? AND datetime < ?", timeframe, cutoff).
		Delete(&model.OHLCV{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.WithFields(logger.Fields{
			"timeframe": timeframe,
			"rows":      res.RowsAffected,
		}).Debug("Cached candles pruned")
	}
	return res.RowsAffected, nil
}
