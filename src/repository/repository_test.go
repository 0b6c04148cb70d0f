package repository

// Test index:
//  1. TestExecutionInsertIgnore checks duplicate fills are reported as not new.
//  2. TestExecutionInsertIgnoreSQL pins the postgres ON CONFLICT shape.
//  3. TestTradedSymbols counts only Trade executions inside the window.
//  4. TestTradeCreateIfAbsent keeps the first row for an external id.
//  5. TestTradeUpdateOpenRefusesClosed guards the one-way close.
//  6. TestListOpenBySymbolOldestFirst orders candidates for quick sync.
//  7. TestTradeRetentionQueries covers counts and deletes of old closed trades.
//  8. TestMarketStructureLatestAndInsert covers the snapshot time series.
//  9. TestMarketStructurePruning covers per-timeframe and per-symbol deletes.
// 10. TestConnectionLifecycle covers ListActive, MarkSynced, Deactivate and Upsert.
// 11. TestExceptionCreate persists and lists job failures.
// 12. TestCandleCache covers insert-ignore, the recent window and pruning.
// 13. TestFillLedgerRollsBack drops raw fills when the trade write fails.

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"tradejournal/src/database"
	"tradejournal/src/model"
)

var baseTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", 0)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func rawExec(id, symbol, execType string, at time.Time) *model.RawExecution {
	return &model.RawExecution{
		UserID:      1,
		Exchange:    model.ExchangeBybit,
		ExecutionID: id,
		OrderID:     "O-" + id,
		Symbol:      symbol,
		Side:        "Buy",
		Quantity:    decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
		ExecType:    execType,
		ExecutedAt:  at,
	}
}

func openTrade(ext, symbol string, entry time.Time) *model.Trade {
	return &model.Trade{
		UserID:     1,
		Exchange:   model.ExchangeBybit,
		ExternalID: ext,
		Symbol:     symbol,
		Side:       model.TradeSideBuy,
		Size:       decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(105),
		EntryTime:  entry,
		Status:     model.TradeStatusOpen,
		Source:     model.TradeSourceExecution,
	}
}

func TestExecutionInsertIgnore(t *testing.T) {
	repo := NewExecutionRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	isNew, err := repo.InsertIgnore(ctx, rawExec("E1", "BTCUSDT", model.ExecTypeTrade, baseTime))
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = repo.InsertIgnore(ctx, rawExec("E1", "BTCUSDT", model.ExecTypeTrade, baseTime))
	require.NoError(t, err)
	require.False(t, isNew)
}

func TestExecutionInsertIgnoreSQL(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRepositoryWithDB(db)

	insert := regexp.QuoteMeta(`INSERT INTO "raw_executions"`) + ".*" +
		regexp.QuoteMeta(`ON CONFLICT ("exchange","execution_id") DO NOTHING`)

	mock.ExpectBegin()
	mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	isNew, err := repo.InsertIgnore(context.Background(), rawExec("E1", "BTCUSDT", model.ExecTypeTrade, baseTime))
	require.NoError(t, err)
	require.True(t, isNew)

	mock.ExpectBegin()
	mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	isNew, err = repo.InsertIgnore(context.Background(), rawExec("E1", "BTCUSDT", model.ExecTypeTrade, baseTime))
	require.NoError(t, err)
	require.False(t, isNew)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTradedSymbols(t *testing.T) {
	repo := NewExecutionRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		_, err := repo.InsertIgnore(ctx, rawExec(id, "BTCUSDT", model.ExecTypeTrade, baseTime.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	// funding rows and old fills never count
	for i, id := range []string{"b1", "b2", "b3"} {
		_, err := repo.InsertIgnore(ctx, rawExec(id, "ETHUSDT", "Funding", baseTime.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		_, err := repo.InsertIgnore(ctx, rawExec(id, "SOLUSDT", model.ExecTypeTrade, baseTime.AddDate(0, 0, -40-i)))
		require.NoError(t, err)
	}
	_, err := repo.InsertIgnore(ctx, rawExec("d1", "XRPUSDT", model.ExecTypeTrade, baseTime))
	require.NoError(t, err)

	symbols, err := repo.TradedSymbols(ctx, baseTime.AddDate(0, 0, -30), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT"}, symbols)

	active, err := repo.SymbolsActiveSince(ctx, baseTime.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"}, active)
}

func TestTradeCreateIfAbsent(t *testing.T) {
	repo := NewTradeRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	created, err := repo.CreateIfAbsent(ctx, openTrade("O1", "BTCUSDT", baseTime))
	require.NoError(t, err)
	require.True(t, created)

	dup := openTrade("O1", "BTCUSDT", baseTime)
	dup.Size = decimal.NewFromInt(99)
	created, err = repo.CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	require.False(t, created)

	found, err := repo.FindByExternalID(ctx, 1, model.ExchangeBybit, "O1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.Size.Equal(decimal.NewFromInt(2)))

	missing, err := repo.FindByExternalID(ctx, 1, model.ExchangeBybit, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestTradeUpdateOpenRefusesClosed(t *testing.T) {
	repo := NewTradeRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	tr := openTrade("O1", "BTCUSDT", baseTime)
	_, err := repo.CreateIfAbsent(ctx, tr)
	require.NoError(t, err)

	require.True(t, tr.ApplyFill(decimal.NewFromInt(2), decimal.NewFromInt(115), decimal.RequireFromString("0.5")))
	updated, err := repo.UpdateOpen(ctx, tr)
	require.NoError(t, err)
	require.True(t, updated)

	require.True(t, tr.Close(decimal.NewFromInt(120), decimal.NewFromInt(40), decimal.Zero, baseTime.Add(time.Hour), "C1"))
	updated, err = repo.UpdateOpen(ctx, tr)
	require.NoError(t, err)
	require.True(t, updated)

	// a stale copy still believing the trade is open must not reopen it
	stale := *tr
	stale.Status = model.TradeStatusOpen
	stale.Size = decimal.NewFromInt(10)
	updated, err = repo.UpdateOpen(ctx, &stale)
	require.NoError(t, err)
	require.False(t, updated)

	found, err := repo.FindByExternalID(ctx, 1, model.ExchangeBybit, "O1")
	require.NoError(t, err)
	require.Equal(t, model.TradeStatusClosed, found.Status)
	require.True(t, found.Size.Equal(decimal.NewFromInt(4)))
	require.True(t, found.EntryPrice.Equal(decimal.NewFromInt(110)))
	require.Equal(t, "C1", found.CloseRef)

	exists, err := repo.CloseRefExists(ctx, 1, model.ExchangeBybit, "C1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestListOpenBySymbolOldestFirst(t *testing.T) {
	repo := NewTradeRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	_, err := repo.CreateIfAbsent(ctx, openTrade("newer", "BTCUSDT", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.CreateIfAbsent(ctx, openTrade("older", "BTCUSDT", baseTime))
	require.NoError(t, err)
	_, err = repo.CreateIfAbsent(ctx, openTrade("other", "ETHUSDT", baseTime))
	require.NoError(t, err)

	rows, err := repo.ListOpenBySymbol(ctx, 1, model.ExchangeBybit, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "older", rows[0].ExternalID)

	symbols, err := repo.OpenSymbols(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestTradeRetentionQueries(t *testing.T) {
	repo := NewTradeRepositoryWithDB(newTestDB(t))
	ctx := context.Background()
	cutoff := baseTime.AddDate(-2, 0, 0)

	oldClosed := openTrade("old-closed", "BTCUSDT", cutoff.AddDate(0, 0, -1))
	oldClosed.Status = model.TradeStatusClosed
	oldOpen := openTrade("old-open", "BTCUSDT", cutoff.AddDate(0, 0, -1))
	recent := openTrade("recent", "BTCUSDT", baseTime)
	recent.Status = model.TradeStatusClosed
	for _, tr := range []*model.Trade{oldClosed, oldOpen, recent} {
		_, err := repo.CreateIfAbsent(ctx, tr)
		require.NoError(t, err)
	}

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	n, err := repo.CountClosedBefore(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = repo.DeleteClosedBefore(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	active, err := repo.SymbolsActiveSince(ctx, baseTime.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT"}, active)
}

func snapshot(symbol, tf string, ts time.Time) *model.MarketStructure {
	return &model.MarketStructure{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: ts,
		Bias:      model.BiasNeutral,
		OrderBlocks: []model.OrderBlock{
			{Type: "bullish", High: 101, Low: 99, Timestamp: ts, Strength: 3, IsActive: true},
		},
	}
}

func TestMarketStructureLatestAndInsert(t *testing.T) {
	repo := NewMarketStructureRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	none, err := repo.Latest(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.Nil(t, none)

	inserted, err := repo.Insert(ctx, snapshot("BTCUSDT", model.Timeframe1h, baseTime))
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = repo.Insert(ctx, snapshot("BTCUSDT", model.Timeframe1h, baseTime))
	require.NoError(t, err)
	require.False(t, inserted)
	_, err = repo.Insert(ctx, snapshot("BTCUSDT", model.Timeframe1h, baseTime.Add(time.Hour)))
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.True(t, latest.Timestamp.Equal(baseTime.Add(time.Hour)))
	require.Len(t, latest.OrderBlocks, 1)
	require.Equal(t, 101.0, latest.OrderBlocks[0].High)
}

func TestMarketStructurePruning(t *testing.T) {
	repo := NewMarketStructureRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	for _, s := range []*model.MarketStructure{
		snapshot("BTCUSDT", model.Timeframe5m, baseTime.AddDate(0, 0, -10)),
		snapshot("BTCUSDT", model.Timeframe5m, baseTime.AddDate(0, 0, -1)),
		snapshot("BTCUSDT", model.Timeframe1h, baseTime.AddDate(0, 0, -10)),
		snapshot("DOGEUSDT", model.Timeframe1h, baseTime.AddDate(0, 0, -40)),
		snapshot("DOGEUSDT", model.Timeframe1h, baseTime.AddDate(0, 0, -5)),
	} {
		_, err := repo.Insert(ctx, s)
		require.NoError(t, err)
	}

	n, err := repo.CountOlderThan(ctx, model.Timeframe5m, baseTime.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = repo.DeleteOlderThan(ctx, model.Timeframe5m, baseTime.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	symbols, err := repo.Symbols(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "DOGEUSDT"}, symbols)

	floor := baseTime.AddDate(0, 0, -30)
	n, err = repo.CountForSymbolsOlderThan(ctx, []string{"DOGEUSDT"}, floor)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = repo.DeleteForSymbolsOlderThan(ctx, []string{"DOGEUSDT"}, floor)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = repo.DeleteForSymbolsOlderThan(ctx, nil, floor)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConnectionLifecycle(t *testing.T) {
	repo := NewConnectionRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	conn := &model.ExchangeConnection{UserID: 1, Exchange: model.ExchangeBybit, APIKeyHash: "k1", APISecretHash: "s1", AutoSync: true, SyncIntervalHours: 4, IsActive: true}
	require.NoError(t, repo.Create(ctx, conn))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, repo.MarkSynced(ctx, conn.ID, SyncKindQuick, baseTime))
	require.NoError(t, repo.RecordError(ctx, conn.ID, "boom"))
	got, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastQuickSyncAt)
	require.Nil(t, got.LastSyncAt)
	require.Equal(t, "boom", got.LastError)

	require.NoError(t, repo.Deactivate(ctx, conn.ID, "invalid api key"))
	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
	require.ErrorIs(t, repo.Deactivate(ctx, 999, "x"), gorm.ErrRecordNotFound)

	rotated := &model.ExchangeConnection{UserID: 1, Exchange: model.ExchangeBybit, APIKeyHash: "k2", APISecretHash: "s2", IsActive: true}
	require.NoError(t, repo.Upsert(ctx, rotated))
	got, err = repo.GetByUserAndExchange(ctx, 1, model.ExchangeBybit)
	require.NoError(t, err)
	require.Equal(t, "k2", got.APIKeyHash)
	require.True(t, got.IsActive)
}

func TestExceptionCreate(t *testing.T) {
	repo := NewExceptionRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Exception{Service: "worker", Module: "jobs", Method: "full_sync:1", Attempts: 4, Message: "boom", Level: model.ExceptionLevelError}))
	rows, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 4, rows[0].Attempts)
}

func TestCandleCache(t *testing.T) {
	repo := NewCandleRepositoryWithDB(newTestDB(t))
	ctx := context.Background()

	var bars []model.Candle
	for i := 0; i < 5; i++ {
		bars = append(bars, model.Candle{
			Symbol:   "BTCUSDT",
			Datetime: baseTime.Add(time.Duration(i) * time.Hour),
			Open:     100,
			High:     101 + float64(i),
			Low:      99,
			Close:    100.5,
			Volume:   10,
		})
	}

	n, err := repo.InsertIgnore(ctx, model.Timeframe1h, bars[:3])
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	n, err = repo.InsertIgnore(ctx, model.Timeframe1h, bars)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	recent, err := repo.Recent(ctx, "BTCUSDT", model.Timeframe1h, baseTime.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.True(t, recent[0].Datetime.Equal(baseTime.Add(2*time.Hour)))
	require.True(t, recent[1].Datetime.Equal(baseTime.Add(3*time.Hour)))
	require.Equal(t, 104.0, recent[1].High)

	other, err := repo.Recent(ctx, "BTCUSDT", model.Timeframe4h, baseTime.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, other)

	cutoff := baseTime.Add(2 * time.Hour)
	count, err := repo.CountOlderThan(ctx, model.Timeframe1h, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	deleted, err := repo.DeleteOlderThan(ctx, model.Timeframe1h, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}

func TestFillLedgerRollsBack(t *testing.T) {
	db := newTestDB(t)
	ledger := NewFillLedgerWithDB(db)
	ctx := context.Background()
	raw := &model.RawExecution{
		UserID:      1,
		Exchange:    model.ExchangeBybit,
		ExecutionID: "E1",
		OrderID:     "O1",
		Symbol:      "BTCUSDT",
		Quantity:    decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
		ExecType:    model.ExecTypeTrade,
		ExecutedAt:  baseTime,
	}

	err := ledger.Atomic(ctx, func(trades TradeRepository, executions ExecutionRepository) error {
		isNew, err := executions.InsertIgnore(ctx, raw)
		require.NoError(t, err)
		require.True(t, isNew)
		return errors.New("trade write failed")
	})
	require.Error(t, err)

	var rows int64
	require.NoError(t, db.Model(&model.RawExecution{}).Count(&rows).Error)
	require.Zero(t, rows)

	raw.ID = 0
	require.NoError(t, ledger.Atomic(ctx, func(trades TradeRepository, executions ExecutionRepository) error {
		_, err := executions.InsertIgnore(ctx, raw)
		return err
	}))
	require.NoError(t, db.Model(&model.RawExecution{}).Count(&rows).Error)
	require.EqualValues(t, 1, rows)
}
