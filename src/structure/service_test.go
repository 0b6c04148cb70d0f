package structure

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"tradejournal/src/database"
	"tradejournal/src/model"
	"tradejournal/src/repository"
)

type fakeCandles struct {
	calls int
	err   error
}

func (f *fakeCandles) FetchCandles(_ context.Context, symbol, _ string, limit int) ([]model.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return randomWalk(int64(len(symbol)), limit), nil
}

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

func newTestService(t *testing.T, candles *fakeCandles) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	s := NewService(
		candles,
		repository.NewMarketStructureRepositoryWithDB(db),
		repository.NewExecutionRepositoryWithDB(db),
		repository.NewTradeRepositoryWithDB(db),
		DefaultConfig(),
	)
	return s, db
}

func TestRefreshStaleness(t *testing.T) {
	candles := &fakeCandles{}
	s, db := newTestService(t, candles)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	first, computed, err := s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.True(t, computed)
	require.Equal(t, 1, candles.calls)

	// 30 minutes later the 1h snapshot is reused without a fetch
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	cached, computed, err := s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.False(t, computed)
	require.Equal(t, 1, candles.calls)
	require.Equal(t, first.ID, cached.ID)

	// 90 minutes later it is recomputed and appended
	s.now = func() time.Time { return base.Add(90 * time.Minute) }
	_, computed, err = s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.True(t, computed)
	require.Equal(t, 2, candles.calls)

	var rows int64
	require.NoError(t, db.Model(&model.MarketStructure{}).Count(&rows).Error)
	require.Equal(t, int64(2), rows)

	// the 5m timeframe has its own, shorter interval
	_, computed, err = s.Refresh(ctx, "BTCUSDT", model.Timeframe5m)
	require.NoError(t, err)
	require.True(t, computed)
}

func TestRefreshUnknownTimeframe(t *testing.T) {
	s, _ := newTestService(t, &fakeCandles{})
	_, _, err := s.Refresh(context.Background(), "BTCUSDT", "3m")
	require.Error(t, err)
}

func TestStaleAfter(t *testing.T) {
	want := map[string]time.Duration{
		model.Timeframe5m:  15 * time.Minute,
		model.Timeframe15m: 30 * time.Minute,
		model.Timeframe1h:  time.Hour,
		model.Timeframe4h:  4 * time.Hour,
		model.Timeframe1D:  24 * time.Hour,
	}
	for tf, d := range want {
		got, err := StaleAfter(tf)
		require.NoError(t, err)
		require.Equal(t, d, got, tf)
	}
}

func seedExecutions(t *testing.T, db *gorm.DB, symbol string, n int, at time.Time) {
	t.Helper()
	repo := repository.NewExecutionRepositoryWithDB(db)
	for i := 0; i < n; i++ {
		_, err := repo.InsertIgnore(context.Background(), &model.RawExecution{
			UserID:      1,
			Exchange:    model.ExchangeBybit,
			ExecutionID: symbol + "-" + strconv.Itoa(i),
			OrderID:     "O",
			Symbol:      symbol,
			Quantity:    decimal.NewFromInt(1),
			Price:       decimal.NewFromInt(1),
			ExecType:    model.ExecTypeTrade,
			ExecutedAt:  at,
		})
		require.NoError(t, err)
	}
}

func TestUniverseAndRefreshAll(t *testing.T) {
	candles := &fakeCandles{}
	s, db := newTestService(t, candles)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Config.Timeframes = []string{model.Timeframe1h, model.Timeframe4h}

	seedExecutions(t, db, "BTCUSDT", 3, now.Add(-24*time.Hour))
	seedExecutions(t, db, "XRPUSDT", 2, now.Add(-24*time.Hour))     // too few
	seedExecutions(t, db, "DOGEUSDT", 5, now.Add(-40*24*time.Hour)) // too old
	_, err := repository.NewTradeRepositoryWithDB(db).CreateIfAbsent(ctx, &model.Trade{
		UserID: 1, Exchange: model.ExchangeBybit, ExternalID: "T1", Symbol: "SOLUSDT",
		Side: model.TradeSideBuy, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100),
		EntryTime: now.Add(-time.Hour), Status: model.TradeStatusOpen, Source: model.TradeSourceExecution,
	})
	require.NoError(t, err)

	symbols, err := s.Universe(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"BTCUSDT", "SOLUSDT"}, symbols)

	report, err := s.RefreshAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Symbols)
	require.Equal(t, 4, report.Refreshed)

	report, err = s.RefreshAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Fresh)
	require.Equal(t, 4, candles.calls)
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	candles := &fakeCandles{err: errors.New("exchange down")}
	s, _ := newTestService(t, candles)
	s.Config.ExtraSymbols = []string{"BTCUSDT"}
	s.Config.Timeframes = []string{model.Timeframe1h, model.Timeframe1D}

	report, err := s.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)
}

func TestRefreshFallsBackToCachedCandles(t *testing.T) {
	candles := &fakeCandles{}
	s, db := newTestService(t, candles)
	s.Cache = repository.NewCandleRepositoryWithDB(db)
	ctx := context.Background()

	// randomWalk bars are hourly from t0, the newest one is t0+199h
	s.now = func() time.Time { return t0.Add(200 * time.Hour) }
	_, computed, err := s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.True(t, computed)

	var cached int64
	require.NoError(t, db.Model(&model.OHLCV{}).Count(&cached).Error)
	require.EqualValues(t, s.Config.CandleLimit, cached)

	candles.err = errors.New("exchange down")
	s.now = func() time.Time { return t0.Add(202 * time.Hour) }
	ms, computed, err := s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.NoError(t, err)
	require.True(t, computed)
	require.Equal(t, s.Config.CandleLimit, ms.CandleCount)

	// a cache older than CacheMaxAge does not stand in
	s.now = func() time.Time { return t0.Add(300 * time.Hour) }
	_, _, err = s.Refresh(ctx, "BTCUSDT", model.Timeframe1h)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exchange down")
}
