package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServePort  string `envconfig:"PORT" default:"9898"`
	WithServer bool   `envconfig:"WORKER_SERVER" default:"true"` // serve /healthcheck and /streams next to the loop
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
