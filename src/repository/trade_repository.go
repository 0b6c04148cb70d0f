package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tradejournal/src/database"
	"tradejournal/src/model"
)

// TradeRepository is the Trade write path shared by the batch engine and the
// stream correlator. Every write is idempotent on its natural key.
type TradeRepository interface {
	FindByExternalID(ctx context.Context, userID uint, exchange, externalID string) (*model.Trade, error)
	CreateIfAbsent(ctx context.Context, t *model.Trade) (bool, error)
	UpdateOpen(ctx context.Context, t *model.Trade) (bool, error)
	ListOpenBySymbol(ctx context.Context, userID uint, exchange, symbol string) ([]model.Trade, error)
	CloseRefExists(ctx context.Context, userID uint, exchange, ref string) (bool, error)
	OpenSymbols(ctx context.Context) ([]string, error)
}

type GormTradeRepository struct {
	db *gorm.DB
}

var _ TradeRepository = (*GormTradeRepository)(nil)

func NewTradeRepository() *GormTradeRepository {
	return &GormTradeRepository{db: database.MainDB}
}

func NewTradeRepositoryWithDB(db *gorm.DB) *GormTradeRepository {
	return &GormTradeRepository{db: db}
}

// FindByExternalID returns nil, nil when no row holds the id.
func (r *GormTradeRepository) FindByExternalID(ctx context.Context, userID uint, exchange, externalID string) (*model.Trade, error) {
	var t model.Trade
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange = ? AND external_id = ?", userID, exchange, externalID).
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateIfAbsent inserts t unless (user_id, exchange, external_id) exists.
// It reports whether a row was written.
func (r *GormTradeRepository) CreateIfAbsent(ctx context.Context, t *model.Trade) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "exchange"},
				{Name: "external_id"},
			},
			DoNothing: true,
		}).
		Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

var mutableTradeColumns = []string{
	"size", "entry_price", "exit_price", "exit_time",
	"realized_pnl", "unrealized_pnl", "fee", "status", "close_ref", "updated_at",
}

// UpdateOpen writes the mutable columns of t only while the stored row is
// still open, so a concurrent close is never undone. It reports whether the
// row was updated.
func (r *GormTradeRepository) UpdateOpen(ctx context.Context, t *model.Trade) (bool, error) {
	t.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(t).
		Where("status = ?", model.TradeStatusOpen).
		Select(mutableTradeColumns).
		Updates(t)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		logger.WithFields(logger.Fields{
			"trade_id":    t.ID,
			"external_id": t.ExternalID,
		}).Warn("Trade no longer open, update skipped")
	}
	return res.RowsAffected > 0, nil
}

// ListOpenBySymbol returns open trades oldest first.
func (r *GormTradeRepository) ListOpenBySymbol(ctx context.Context, userID uint, exchange, symbol string) ([]model.Trade, error) {
	var rows []model.Trade
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange = ? AND symbol = ? AND status = ?", userID, exchange, symbol, model.TradeStatusOpen).
		Order("entry_time ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// CloseRefExists reports whether a closed-PnL record was already applied.
func (r *GormTradeRepository) CloseRefExists(ctx context.Context, userID uint, exchange, ref string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("user_id = ? AND exchange = ? AND close_ref = ?", userID, exchange, ref).
		Count(&count).Error
	return count > 0, err
}

// OpenSymbols lists symbols with at least one open trade across all users.
func (r *GormTradeRepository) OpenSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Distinct("symbol").
		Where("status = ?", model.TradeStatusOpen).
		Order("symbol").
		Pluck("symbol", &out).Error
	return out, err
}

// SymbolsActiveSince lists symbols with a trade opened or closed at or after since.
func (r *GormTradeRepository) SymbolsActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Distinct("symbol").
		Where("entry_time >= ? OR exit_time >= ? OR status = ?", since, since, model.TradeStatusOpen).
		Pluck("symbol", &out).Error
	return out, err
}

func (r *GormTradeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Trade{}).Count(&count).Error
	return count, err
}

// CountClosedBefore counts closed trades whose entry is older than cutoff.
func (r *GormTradeRepository) CountClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("status = ? AND entry_time < ?", model.TradeStatusClosed, cutoff).
		Count(&count).Error
	return count, err
}

// DeleteClosedBefore removes closed trades whose entry is older than cutoff.
// Open trades are never pruned.
func (r *GormTradeRepository) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND entry_time < ?", model.TradeStatusClosed, cutoff).
		Delete(&model.Trade{})
	return res.RowsAffected, res.Error
}
