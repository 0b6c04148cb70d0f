package database

import (
	"testing"

	"github.com/stretchr/testify/require"
	"tradejournal/src/model"
)

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	db, err := OpenSQLite(":memory:", 0)
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
	require.True(t, IsSQLite(db))

	for _, m := range []interface{}{&model.Trade{}, &model.RawExecution{}, &model.MarketStructure{}, &model.OHLCV{}, &model.ExchangeConnection{}, &model.Exception{}} {
		require.True(t, db.Migrator().HasTable(m))
	}

	var applied int64
	require.NoError(t, db.Table("data_migrations").Count(&applied).Error)
	require.EqualValues(t, 3, applied)
}
