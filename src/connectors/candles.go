package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	logger "github.com/sirupsen/logrus"
	"tradejournal/src/model"
)

// CandleSource provides an ascending OHLCV window for one symbol and timeframe.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
}

// BybitCandleSource reads public klines through an Adapter.
type BybitCandleSource struct {
	Adapter  Adapter
	Category string
}

func (s *BybitCandleSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	return s.Adapter.FetchKline(ctx, KlineQuery{
		Category:  s.Category,
		Symbol:    symbol,
		Timeframe: timeframe,
		Limit:     limit,
	})
}

// BinanceCandleSource reads public klines from Binance spot through goex.
type BinanceCandleSource struct {
	exchange goex.API
}

func NewBinanceCandleSource(endpoint string, httpClient *http.Client) *BinanceCandleSource {
	if endpoint == "" {
		endpoint = binance.GLOBAL_API_BASE_URL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	apiConfig := &goex.APIConfig{
		HttpClient: httpClient,
		Endpoint:   endpoint,
	}
	return &BinanceCandleSource{exchange: binance.NewWithConfig(apiConfig)}
}

var goexPeriods = map[string]goex.KlinePeriod{
	model.Timeframe5m:  goex.KLINE_PERIOD_5MIN,
	model.Timeframe15m: goex.KLINE_PERIOD_15MIN,
	model.Timeframe1h:  goex.KLINE_PERIOD_1H,
	model.Timeframe4h:  goex.KLINE_PERIOD_4H,
	model.Timeframe1D:  goex.KLINE_PERIOD_1DAY,
}

var knownQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "BTC", "ETH"}

// SplitSymbol splits an exchange symbol like BTCUSDT into base and quote.
func SplitSymbol(symbol string) (string, string, error) {
	s := strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}
	return "", "", fmt.Errorf("cannot split symbol %q into base and quote", symbol)
}

// FetchCandles ignores ctx: the goex API has no context support.
func (s *BinanceCandleSource) FetchCandles(_ context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	period, ok := goexPeriods[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}
	pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: quote})

	klines, err := s.exchange.GetKlineRecords(pair, period, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: binance klines %s: %v", ErrTransient, symbol, err)
	}

	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, model.Candle{
			Symbol:   symbol,
			Datetime: time.Unix(k.Timestamp, 0).UTC(),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Vol,
		})
	}
	logger.WithFields(logger.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"count":     len(candles),
	}).Debug("Fetched binance candles")
	return candles, nil
}

// NewCandleSource picks the configured candle source.
func NewCandleSource(config Config, adapter Adapter) CandleSource {
	if config.CandleSource == CandleSourceBinance {
		return NewBinanceCandleSource(config.BinanceBaseURL, nil)
	}
	return &BybitCandleSource{Adapter: adapter, Category: model.CategoryLinear}
}
