package retention

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"tradejournal/src/model"
)

type Config struct {
	// Horizons maps a timeframe to the age after which its snapshots are dropped.
	Horizons map[string]time.Duration `envconfig:"RETENTION_HORIZONS" default:"5m:168h,15m:336h,1h:720h,4h:1440h,1D:4320h"`

	InactiveAfter time.Duration `envconfig:"RETENTION_INACTIVE_AFTER" default:"1440h"`
	InactiveFloor time.Duration `envconfig:"RETENTION_INACTIVE_FLOOR" default:"720h"` // rows newer than this are kept

	TradeHorizon   time.Duration `envconfig:"RETENTION_TRADE_HORIZON" default:"17520h"`
	TradeThreshold int64         `envconfig:"RETENTION_TRADE_THRESHOLD" default:"100000"`

	DryRun   bool          `envconfig:"RETENTION_DRY_RUN" default:"false"`
	Compact  bool          `envconfig:"RETENTION_COMPACT" default:"true"`
	Interval time.Duration `envconfig:"RETENTION_INTERVAL" default:"24h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func DefaultConfig() Config {
	day := 24 * time.Hour
	return Config{
		Horizons: map[string]time.Duration{
			model.Timeframe5m:  7 * day,
			model.Timeframe15m: 14 * day,
			model.Timeframe1h:  30 * day,
			model.Timeframe4h:  60 * day,
			model.Timeframe1D:  180 * day,
		},
		InactiveAfter:  60 * day,
		InactiveFloor:  30 * day,
		TradeHorizon:   730 * day,
		TradeThreshold: 100000,
		Compact:        true,
		Interval:       day,
	}
}
