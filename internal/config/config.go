package config

import (
	"time"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	ReconnectConfig
	RelayConfig
	LimitsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetAPIKey() string
	GetDataFolder() string
	GetEnv() string
}

type ReconnectConfig interface {
	GetReconnectBaseDelay() time.Duration
	GetReconnectMultiplier() float64
	GetReconnectMaxDelay() time.Duration
	GetReconnectMaxAttempts() int
	GetRestartDelay() time.Duration
	GetConnectTimeout() time.Duration
}

type RelayConfig interface {
	GetBackendURL() string
	GetWebhookTimeout() time.Duration
}

type LimitsConfig interface {
	GetRateLimitPerSecond() float64
	GetRateLimitBurst() int
}

type mainConfig struct {
	EnvVars
	Reconnect
	Relay
	Limits
}

func New() Config {
	// Optional: local development settings. Absence is not an error.
	_ = godotenv.Load()
	return mainConfig{}
}
