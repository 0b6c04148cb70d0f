package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the settings given to a connection created by set_key.
// An existing connection only gets its credentials replaced.
type Config struct {
	Exchange          string   `envconfig:"KEYS_EXCHANGE" default:"bybit"`
	AutoSync          bool     `envconfig:"KEYS_AUTO_SYNC" default:"true"`
	SyncIntervalHours int      `envconfig:"KEYS_SYNC_INTERVAL_HOURS" default:"4"`
	Categories        []string `envconfig:"KEYS_CATEGORIES" default:"linear"`
	StreamEnabled     bool     `envconfig:"KEYS_STREAM_ENABLED" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
