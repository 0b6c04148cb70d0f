package retention

import (
	"context"
	"fmt"
	"sort"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"tradejournal/src/database"
	"tradejournal/src/model"
	"tradejournal/src/repository"
	"tradejournal/src/utils"
)

type structureStore interface {
	CountOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error)
	Symbols(ctx context.Context) ([]string, error)
	CountForSymbolsOlderThan(ctx context.Context, symbols []string, cutoff time.Time) (int64, error)
	DeleteForSymbolsOlderThan(ctx context.Context, symbols []string, cutoff time.Time) (int64, error)
}

type candleStore interface {
	CountOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, timeframe string, cutoff time.Time) (int64, error)
}

type tradeStore interface {
	Count(ctx context.Context) (int64, error)
	CountClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SymbolsActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

type activeSymbols interface {
	SymbolsActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

// Report lists what a cleanup removed, or would remove on a dry run.
type Report struct {
	DryRun          bool             `json:"dry_run"`
	ByTimeframe     map[string]int64 `json:"by_timeframe"`
	InactiveSymbols []string         `json:"inactive_symbols,omitempty"`
	InactiveRows    int64            `json:"inactive_rows"`
	TradeCount      int64            `json:"trade_count"`
	TradesPruned    int64            `json:"trades_pruned"`
	CandlesPruned   int64            `json:"candles_pruned"`
	Compacted       bool             `json:"compacted"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// Structures is the number of market structure rows affected.
func (r *Report) Structures() int64 {
	total := r.InactiveRows
	for _, n := range r.ByTimeframe {
		total += n
	}
	return total
}

func (r *Report) Total() int64 {
	return r.Structures() + r.TradesPruned + r.CandlesPruned
}

type Cleaner struct {
	DB         *gorm.DB
	Structures structureStore
	Candles    candleStore
	Trades     tradeStore
	Executions activeSymbols
	Config     Config

	now func() time.Time
	log *logger.Entry
}

func NewCleaner(db *gorm.DB, config Config) *Cleaner {
	return &Cleaner{
		DB:         db,
		Structures: repository.NewMarketStructureRepositoryWithDB(db),
		Candles:    repository.NewCandleRepositoryWithDB(db),
		Trades:     repository.NewTradeRepositoryWithDB(db),
		Executions: repository.NewExecutionRepositoryWithDB(db),
		Config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "retention"),
	}
}

// Run applies every retention rule once. On a dry run nothing is deleted and
// the report carries the counts that would have been.
func (c *Cleaner) Run(ctx context.Context) (*Report, error) {
	now := c.now()
	report := &Report{
		DryRun:      c.Config.DryRun,
		ByTimeframe: make(map[string]int64),
		StartedAt:   now,
	}

	if err := c.pruneByHorizon(ctx, now, report); err != nil {
		return report, err
	}
	if err := c.pruneInactive(ctx, now, report); err != nil {
		return report, err
	}
	if err := c.pruneTrades(ctx, now, report); err != nil {
		return report, err
	}

	if c.Config.Compact && !c.Config.DryRun && report.Total() > 0 {
		if err := c.compact(ctx); err != nil {
			// the rows are gone already, a failed vacuum is not worth failing the run
			c.log.WithError(err).Warn("Storage compaction failed")
		} else {
			report.Compacted = true
		}
	}

	report.FinishedAt = c.now()
	c.log.WithFields(logger.Fields{
		"dry_run":          report.DryRun,
		"structures":       report.Structures(),
		"inactive_symbols": len(report.InactiveSymbols),
		"trades":           report.TradesPruned,
		"candles":          report.CandlesPruned,
		"compacted":        report.Compacted,
	}).Info("Retention cleanup finished")
	return report, nil
}

func (c *Cleaner) pruneByHorizon(ctx context.Context, now time.Time, report *Report) error {
	timeframes := make([]string, 0, len(c.Config.Horizons))
	for tf := range c.Config.Horizons {
		timeframes = append(timeframes, tf)
	}
	sort.Strings(timeframes)

	for _, tf := range timeframes {
		horizon := c.Config.Horizons[tf]
		if horizon <= 0 {
			continue
		}
		cutoff := now.Add(-horizon)
		var n int64
		var err error
		if c.Config.DryRun {
			n, err = c.Structures.CountOlderThan(ctx, tf, cutoff)
		} else {
			n, err = c.Structures.DeleteOlderThan(ctx, tf, cutoff)
		}
		if err != nil {
			return fmt.Errorf("prune %s snapshots: %w", tf, err)
		}
		report.ByTimeframe[tf] = n
		if n > 0 {
			c.log.WithFields(logger.Fields{"timeframe": tf, "rows": n, "cutoff": cutoff}).Debug("Snapshots past horizon")
		}

		if c.Candles == nil {
			continue
		}
		if c.Config.DryRun {
			n, err = c.Candles.CountOlderThan(ctx, tf, cutoff)
		} else {
			n, err = c.Candles.DeleteOlderThan(ctx, tf, cutoff)
		}
		if err != nil {
			return fmt.Errorf("prune %s candles: %w", tf, err)
		}
		report.CandlesPruned += n
	}
	return nil
}

// InactiveSymbols lists stored symbols with neither executions nor trades
// since the inactivity window began.
func (c *Cleaner) InactiveSymbols(ctx context.Context, now time.Time) ([]string, error) {
	stored, err := c.Structures.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("stored symbols: %w", err)
	}
	since := now.Add(-c.Config.InactiveAfter)
	executed, err := c.Executions.SymbolsActiveSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("executed symbols: %w", err)
	}
	traded, err := c.Trades.SymbolsActiveSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("traded symbols: %w", err)
	}

	active := make(map[string]bool)
	for _, s := range utils.UnionStrings(executed, traded) {
		active[s] = true
	}
	var out []string
	for _, s := range stored {
		if !active[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Cleaner) pruneInactive(ctx context.Context, now time.Time, report *Report) error {
	if c.Config.InactiveAfter <= 0 {
		return nil
	}
	symbols, err := c.InactiveSymbols(ctx, now)
	if err != nil {
		return err
	}
	report.InactiveSymbols = symbols
	if len(symbols) == 0 {
		return nil
	}

	cutoff := now.Add(-c.Config.InactiveFloor)
	var n int64
	if c.Config.DryRun {
		n, err = c.Structures.CountForSymbolsOlderThan(ctx, symbols, cutoff)
	} else {
		n, err = c.Structures.DeleteForSymbolsOlderThan(ctx, symbols, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune inactive symbols: %w", err)
	}
	report.InactiveRows = n
	return nil
}

func (c *Cleaner) pruneTrades(ctx context.Context, now time.Time, report *Report) error {
	count, err := c.Trades.Count(ctx)
	if err != nil {
		return fmt.Errorf("count trades: %w", err)
	}
	report.TradeCount = count
	if count <= c.Config.TradeThreshold || c.Config.TradeHorizon <= 0 {
		return nil
	}

	cutoff := now.Add(-c.Config.TradeHorizon)
	var n int64
	if c.Config.DryRun {
		n, err = c.Trades.CountClosedBefore(ctx, cutoff)
	} else {
		n, err = c.Trades.DeleteClosedBefore(ctx, cutoff)
	}
	if err != nil {
		return fmt.Errorf("prune trades: %w", err)
	}
	report.TradesPruned = n
	c.log.WithFields(logger.Fields{"trades": count, "pruned": n, "cutoff": cutoff}).Info("Trade history over threshold")
	return nil
}

// compact reclaims the space freed by deletes. VACUUM cannot run inside a
// transaction, so it goes straight through the session.
func (c *Cleaner) compact(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	db := c.DB.WithContext(ctx)
	if database.IsSQLite(c.DB) {
		return db.Exec("VACUUM").Error
	}
	for _, table := range []string{model.MarketStructure{}.TableName(), model.OHLCV{}.TableName(), model.Trade{}.TableName()} {
		if err := db.Exec("VACUUM ANALYZE " + table).Error; err != nil {
			return fmt.Errorf("vacuum %s: %w", table, err)
		}
	}
	return nil
}
