package stream

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL              string        `envconfig:"BYBIT_STREAM_URL" default:"wss://stream.bybit.com/v5/private"`
	PingInterval     time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"20s"`
	AuthExpiry       time.Duration `envconfig:"STREAM_AUTH_EXPIRY" default:"10s"`
	HandshakeTimeout time.Duration `envconfig:"STREAM_HANDSHAKE_TIMEOUT" default:"15s"`
	MaxFailures      int           `envconfig:"STREAM_MAX_FAILURES" default:"5"` // consecutive failed sessions before FAILED

	// InferenceEnabled allows closed trades to be written without a position
	// snapshot, tagged as inferred.
	InferenceEnabled bool `envconfig:"STREAM_INFERENCE_ENABLED" default:"true"`
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
		URL:              "wss://stream.bybit.com/v5/private",
		PingInterval:     20 * time.Second,
		AuthExpiry:       10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		MaxFailures:      5,
		InferenceEnabled: true,
	}
}

// reconnectDelays is the wait before the n-th consecutive reconnect.
var reconnectDelays = []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// ReconnectDelay returns the delay after failures consecutive failed
// sessions, capped at the last step.
func ReconnectDelay(failures int) time.Duration {
	if failures <= 0 {
		return reconnectDelays[0]
	}
	if failures > len(reconnectDelays) {
		return reconnectDelays[len(reconnectDelays)-1]
	}
	return reconnectDelays[failures-1]
}
