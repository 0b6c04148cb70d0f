package jobs

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	GuardBackend string        `envconfig:"JOB_GUARD" default:"memory"` // "memory" or "redis"
	GuardTTL     time.Duration `envconfig:"JOB_GUARD_TTL" default:"30m"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisUser    string        `envconfig:"REDIS_USERNAME" default:""`
	RedisPass    string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB      int           `envconfig:"REDIS_DB" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
