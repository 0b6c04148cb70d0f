package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	CandleSourceBybit   = "bybit"
	CandleSourceBinance = "binance"
)

type Config struct {
	BybitBaseURL   string        `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitStreamURL string        `envconfig:"BYBIT_STREAM_URL" default:"wss://stream.bybit.com/v5/private"`
	RecvWindow     int           `envconfig:"BYBIT_RECV_WINDOW" default:"5000"`
	HTTPTimeout    time.Duration `envconfig:"BYBIT_HTTP_TIMEOUT" default:"15s"`

	CandleSource   string `envconfig:"CANDLE_SOURCE" default:"bybit"` // "bybit" or "binance"
	BinanceBaseURL string `envconfig:"BINANCE_BASE_URL" default:""`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
