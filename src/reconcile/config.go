package reconcile

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PageDelay is the fixed pacing between exchange calls.
	PageDelay time.Duration `envconfig:"SYNC_PAGE_DELAY" default:"200ms"`
	PageLimit int           `envconfig:"SYNC_PAGE_LIMIT" default:"100"`

	// MaxPages bounds the cursor loop of one unit.
	MaxPages int `envconfig:"SYNC_MAX_PAGES" default:"500"`

	// Lookback is the range of the first full sync, WindowSize the provider
	// limit of one execution query and Overlap the re-read before last_sync_at.
	Lookback    time.Duration `envconfig:"SYNC_LOOKBACK" default:"720h"`
	WindowSize  time.Duration `envconfig:"SYNC_WINDOW" default:"168h"`
	Overlap     time.Duration `envconfig:"SYNC_OVERLAP" default:"10m"`
	QuickWindow time.Duration `envconfig:"QUICK_SYNC_WINDOW" default:"24h"`

	// SkipClosingFills keeps fills that only reduce a position from seeding
	// new open trades. Closure is taken from closed-PnL records instead.
	SkipClosingFills bool `envconfig:"SYNC_SKIP_CLOSING_FILLS" default:"true"`

	FullSyncTimeout  time.Duration `envconfig:"FULL_SYNC_TIMEOUT" default:"10m"`
	QuickSyncTimeout time.Duration `envconfig:"QUICK_SYNC_TIMEOUT" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		PageDelay:        200 * time.Millisecond,
		PageLimit:        100,
		MaxPages:         500,
		Lookback:         30 * 24 * time.Hour,
		WindowSize:       7 * 24 * time.Hour,
		Overlap:          10 * time.Minute,
		QuickWindow:      24 * time.Hour,
		SkipClosingFills: true,
		FullSyncTimeout:  10 * time.Minute,
		QuickSyncTimeout: 2 * time.Minute,
	}
}
