package events

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""` // comma separated, empty disables kafka
	KafkaTopic   string `envconfig:"KAFKA_SYNC_TOPIC" default:"tradejournal.sync"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
