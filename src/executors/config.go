package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod      time.Duration `envconfig:"LOOP_PERIOD" default:"1m"`
	PoolSize        int           `envconfig:"WORKER_POOL_SIZE" default:"8"`
	EnableStreams   bool          `envconfig:"WORKER_STREAMS" default:"true"`
	EnableStructure bool          `envconfig:"WORKER_STRUCTURE" default:"true"`
	EnableCleanup   bool          `envconfig:"WORKER_CLEANUP" default:"true"`

	StructureTimeout time.Duration `envconfig:"STRUCTURE_JOB_TIMEOUT" default:"15m"`
	CleanupTimeout   time.Duration `envconfig:"CLEANUP_JOB_TIMEOUT" default:"30m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
