package structure

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/connectors"
	"tradejournal/src/model"
	"tradejournal/src/repository"
	"tradejournal/src/utils"
)

// staleAfter is how old a stored snapshot may get before it is recomputed.
var staleAfter = map[string]time.Duration{
	model.Timeframe5m:  15 * time.Minute,
	model.Timeframe15m: 30 * time.Minute,
	model.Timeframe1h:  60 * time.Minute,
	model.Timeframe4h:  240 * time.Minute,
	model.Timeframe1D:  1440 * time.Minute,
}

// StaleAfter returns the refresh interval of a timeframe.
func StaleAfter(timeframe string) (time.Duration, error) {
	d, ok := staleAfter[timeframe]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return d, nil
}

type tradedSymbols interface {
	TradedSymbols(ctx context.Context, since time.Time, minCount int) ([]string, error)
}

type openSymbols interface {
	OpenSymbols(ctx context.Context) ([]string, error)
}

type candleCache interface {
	InsertIgnore(ctx context.Context, timeframe string, candles []model.Candle) (int64, error)
	Recent(ctx context.Context, symbol, timeframe string, to time.Time, limit int) ([]model.Candle, error)
}

// Service keeps market structure snapshots fresh for the traded universe.
type Service struct {
	Candles    connectors.CandleSource
	Structures repository.MarketStructureRepository
	Executions tradedSymbols
	Trades     openSymbols

	// Cache is optional. Fetched windows are written to it and read back
	// when a fetch fails.
	Cache  candleCache
	Config Config

	now func() time.Time
	log *logger.Entry
}

func NewService(
	candles connectors.CandleSource,
	structures repository.MarketStructureRepository,
	executions tradedSymbols,
	trades openSymbols,
	config Config,
) *Service {
	return &Service{
		Candles:    candles,
		Structures: structures,
		Executions: executions,
		Trades:     trades,
		Config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "structure"),
	}
}

// Refresh returns the snapshot for (symbol, timeframe), recomputing it only
// when the stored one is older than the timeframe's interval. The bool reports
// whether a new snapshot was computed.
func (s *Service) Refresh(ctx context.Context, symbol, timeframe string) (*model.MarketStructure, bool, error) {
	maxAge, err := StaleAfter(timeframe)
	if err != nil {
		return nil, false, err
	}
	now := s.now()

	latest, err := s.Structures.Latest(ctx, symbol, timeframe)
	if err != nil {
		return nil, false, fmt.Errorf("load latest %s %s: %w", symbol, timeframe, err)
	}
	if latest != nil && now.Sub(latest.Timestamp) < maxAge {
		return latest, false, nil
	}

	candles, err := s.loadCandles(ctx, symbol, timeframe, now)
	if err != nil {
		return nil, false, err
	}
	ms, err := Analyze(symbol, timeframe, candles, now)
	if err != nil {
		return nil, false, fmt.Errorf("analyze %s %s: %w", symbol, timeframe, err)
	}
	if _, err := s.Structures.Insert(ctx, ms); err != nil {
		return nil, false, fmt.Errorf("store %s %s: %w", symbol, timeframe, err)
	}

	s.log.WithFields(logger.Fields{
		"symbol":       symbol,
		"timeframe":    timeframe,
		"bias":         ms.Bias,
		"order_blocks": len(ms.OrderBlocks),
		"liquidity":    len(ms.LiquidityLevels),
		"fvg":          len(ms.FvgZones),
		"candles":      ms.CandleCount,
	}).Debug("Market structure refreshed")
	return ms, true, nil
}

// loadCandles fetches the window from the exchange and caches it. When the
// fetch fails a cached window whose newest bar is within CacheMaxAge is used.
func (s *Service) loadCandles(ctx context.Context, symbol, timeframe string, now time.Time) ([]model.Candle, error) {
	log := s.log.WithFields(logger.Fields{"symbol": symbol, "timeframe": timeframe})

	candles, fetchErr := s.Candles.FetchCandles(ctx, symbol, timeframe, s.Config.CandleLimit)
	if fetchErr == nil {
		if s.Cache != nil {
			if _, err := s.Cache.InsertIgnore(ctx, timeframe, candles); err != nil {
				log.WithError(err).Warn("Failed to cache candles")
			}
		}
		return candles, nil
	}
	fetchErr = fmt.Errorf("fetch candles %s %s: %w", symbol, timeframe, fetchErr)
	if s.Cache == nil || s.Config.CacheMaxAge <= 0 {
		return nil, fetchErr
	}

	cached, err := s.Cache.Recent(ctx, symbol, timeframe, now, s.Config.CandleLimit)
	if err != nil {
		log.WithError(err).Warn("Candle cache unavailable")
		return nil, fetchErr
	}
	if len(cached) == 0 || now.Sub(cached[len(cached)-1].Datetime) > s.Config.CacheMaxAge {
		return nil, fetchErr
	}
	log.WithError(fetchErr).WithField("candles", len(cached)).Warn("Candle fetch failed, using cached window")
	return cached, nil
}

// Universe is every symbol traded often enough recently plus every symbol
// with an open trade.
func (s *Service) Universe(ctx context.Context) ([]string, error) {
	since := s.now().Add(-s.Config.UniverseWindow)
	traded, err := s.Executions.TradedSymbols(ctx, since, s.Config.MinExecutions)
	if err != nil {
		return nil, fmt.Errorf("traded symbols: %w", err)
	}
	open, err := s.Trades.OpenSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("open symbols: %w", err)
	}
	return utils.UnionStrings(traded, open, s.Config.ExtraSymbols), nil
}

type RefreshReport struct {
	Symbols   int      `json:"symbols"`
	Refreshed int      `json:"refreshed"`
	Fresh     int      `json:"fresh"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// RefreshAll refreshes every (symbol, timeframe) of the universe. A failing
// pair is logged and skipped.
func (s *Service) RefreshAll(ctx context.Context) (*RefreshReport, error) {
	symbols, err := s.Universe(ctx)
	if err != nil {
		return nil, err
	}
	report := &RefreshReport{Symbols: len(symbols)}
	for _, symbol := range symbols {
		for _, tf := range s.Config.Timeframes {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			_, computed, err := s.Refresh(ctx, symbol, tf)
			switch {
			case err != nil:
				report.Failed++
				report.Errors = append(report.Errors, err.Error())
				s.log.WithError(err).WithFields(logger.Fields{"symbol": symbol, "timeframe": tf}).Warn("Structure refresh failed")
			case computed:
				report.Refreshed++
			default:
				report.Fresh++
			}
		}
	}
	s.log.WithFields(logger.Fields{
		"symbols":   report.Symbols,
		"refreshed": report.Refreshed,
		"fresh":     report.Fresh,
		"failed":    report.Failed,
	}).Info("Market structure refresh finished")
	return report, nil
}
