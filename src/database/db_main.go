package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"tradejournal/src/database/migrations"
	"tradejournal/src/model"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// InitMainDB initializes the main database connection and runs migrations.
// This should be called once at application startup.
func InitMainDB() error {
	config := GetConfig()

	var db *gorm.DB
	var err error
	switch config.DatabaseDriver {
	case DriverSQLite:
		db, err = OpenSQLite(config.SQLitePath, config.GormLogLevel)
	case DriverPostgres, "":
		db, err = gorm.Open(postgres.Open(config.DatabaseURLMain),
			&gorm.Config{
				TranslateError: true,
				Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
			},
		)
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", config.DatabaseDriver)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.DatabaseDriver != DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get DB from GORM: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.WithField("driver", config.DatabaseDriver).Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// OpenSQLite opens a SQLite database. ":memory:" keeps a single connection so
// every caller sees the same in-memory schema.
func OpenSQLite(path string, gormLogLevel int) (*gorm.DB, error) {
	if gormLogLevel <= 0 {
		gormLogLevel = int(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(gormLogLevel)),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate runs AutoMigrate for the write-side schema followed by data migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ExchangeConnection{},
		&model.RawExecution{},
		&model.Trade{},
		&model.MarketStructure{},
		&model.OHLCV{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}
	return nil
}

// IsSQLite reports whether db talks to SQLite.
func IsSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}
