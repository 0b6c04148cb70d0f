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

type ConnectionRepository interface {
	GetByID(ctx context.Context, id uint) (*model.ExchangeConnection, error)
	ListActive(ctx context.Context) ([]model.ExchangeConnection, error)
	Deactivate(ctx context.Context, id uint, reason string) error
	MarkSynced(ctx context.Context, id uint, kind string, at time.Time) error
	RecordError(ctx context.Context, id uint, msg string) error
}

const (
	SyncKindFull  = "full"
	SyncKindQuick = "quick"
)

type GormConnectionRepository struct {
	db *gorm.DB
}

var _ ConnectionRepository = (*GormConnectionRepository)(nil)

func NewConnectionRepository() *GormConnectionRepository {
	logger.WithField("component", "GormConnectionRepository").
		Info("Creating new ConnectionRepository with MainDB")

	return &GormConnectionRepository{
		db: database.MainDB,
	}
}

func NewConnectionRepositoryWithDB(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// Create inserts a new ExchangeConnection record.
func (r *GormConnectionRepository) Create(ctx context.Context, c *model.ExchangeConnection) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetByID returns one connection or gorm.ErrRecordNotFound.
func (r *GormConnectionRepository) GetByID(ctx context.Context, id uint) (*model.ExchangeConnection, error) {
	var c model.ExchangeConnection
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByUserAndExchange returns the connection for the given user and exchange.
func (r *GormConnectionRepository) GetByUserAndExchange(
	ctx context.Context,
	userID uint,
	exchange string,
) (*model.ExchangeConnection, error) {

	var c model.ExchangeConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange = ?", userID, exchange).
		First(&c).Error

	if err != nil {
		return nil, err
	}

	return &c, nil
}

// ListActive returns every active connection ordered by id.
func (r *GormConnectionRepository) ListActive(ctx context.Context) ([]model.ExchangeConnection, error) {
	var rows []model.ExchangeConnection
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&rows).Error
	return rows, err
}

// Deactivate switches a connection off after an auth or permission failure.
func (r *GormConnectionRepository) Deactivate(ctx context.Context, id uint, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":          false,
			"deactivated_reason": reason,
			"last_error":         reason,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	logger.WithFields(logger.Fields{
		"connection_id": id,
		"reason":        reason,
	}).Warn("Exchange connection deactivated")

	return nil
}

// MarkSynced stamps a successful run and clears the last error.
func (r *GormConnectionRepository) MarkSynced(ctx context.Context, id uint, kind string, at time.Time) error {
	column := "last_sync_at"
	if kind == SyncKindQuick {
		column = "last_quick_sync_at"
	}
	return r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:       at,
			"last_error": "",
		}).Error
}

// RecordError keeps the last run error on the connection row.
func (r *GormConnectionRepository) RecordError(ctx context.Context, id uint, msg string) error {
	return r.db.WithContext(ctx).
		Model(&model.ExchangeConnection{}).
		Where("id = ?", id).
		Update("last_error", msg).Error
}

// Upsert creates a new connection or replaces its credentials if the
// (user_id, exchange) combination already exists.
func (r *GormConnectionRepository) Upsert(
	ctx context.Context,
	c *model.ExchangeConnection,
) error {

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "exchange"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"api_secret",
				"is_active",
				"updated_at",
			}),
		}).
		Create(c).Error
}
