package structure

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CandleLimit     int           `envconfig:"STRUCTURE_CANDLE_LIMIT" default:"200"`
	Timeframes      []string      `envconfig:"STRUCTURE_TIMEFRAMES" default:"5m,15m,1h,4h,1D"`
	UniverseWindow  time.Duration `envconfig:"STRUCTURE_UNIVERSE_WINDOW" default:"720h"`
	MinExecutions   int           `envconfig:"STRUCTURE_MIN_EXECUTIONS" default:"3"`
	ExtraSymbols    []string      `envconfig:"STRUCTURE_EXTRA_SYMBOLS" default:""`
	RefreshInterval time.Duration `envconfig:"STRUCTURE_REFRESH_INTERVAL" default:"5m"` // scheduler tick for RefreshAll
	Category        string        `envconfig:"STRUCTURE_CATEGORY" default:"linear"`

	// CacheMaxAge bounds how old the newest cached candle may be when the
	// exchange is unreachable and the cache stands in for it.
	CacheMaxAge time.Duration `envconfig:"STRUCTURE_CANDLE_CACHE_MAX_AGE" default:"24h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func DefaultConfig() Config {
	return Config{
		CandleLimit:     200,
		Timeframes:      []string{"5m", "15m", "1h", "4h", "1D"},
		UniverseWindow:  30 * 24 * time.Hour,
		MinExecutions:   3,
		RefreshInterval: 5 * time.Minute,
		Category:        "linear",
		CacheMaxAge:     24 * time.Hour,
	}
}
