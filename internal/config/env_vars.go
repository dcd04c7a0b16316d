package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	apiKeyVar    = "API_KEY"
	folderEnvVar = "FOLDER"
	backendVar   = "BACKEND_URL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "WA Bridge")
}

// GetAPIKey returns the shared secret expected in the X-Api-Key header and
// attached to outbound webhook calls. An empty value disables the check,
// which is only sensible for local development.
func (EnvVars) GetAPIKey() string {
	return GetEnv(apiKeyVar, "")
}

// GetDataFolder returns the root under which each tenant's credential
// directory lives.
func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

type Reconnect struct{}

var _ ReconnectConfig = Reconnect{}

func (Reconnect) GetReconnectBaseDelay() time.Duration {
	return GetEnvDuration("RECONNECT_BASE_DELAY", 2*time.Second)
}

func (Reconnect) GetReconnectMultiplier() float64 {
	return GetEnvFloat("RECONNECT_MULTIPLIER", 2.0)
}

func (Reconnect) GetReconnectMaxDelay() time.Duration {
	return GetEnvDuration("RECONNECT_MAX_DELAY", time.Minute)
}

func (Reconnect) GetReconnectMaxAttempts() int {
	return GetEnvInt("RECONNECT_MAX_ATTEMPTS", 5)
}

// GetRestartDelay is the fixed delay before reconnecting after the remote
// side asks for a restart. Deliberately short and without backoff growth.
func (Reconnect) GetRestartDelay() time.Duration {
	return GetEnvDuration("RESTART_DELAY", time.Second)
}

func (Reconnect) GetConnectTimeout() time.Duration {
	return GetEnvDuration("CONNECT_TIMEOUT", 30*time.Second)
}

type Relay struct{}

var _ RelayConfig = Relay{}

// GetBackendURL returns the base URL of the CRM backend that receives the
// incoming-message and status webhooks.
func (Relay) GetBackendURL() string {
	return GetEnv(backendVar, "http://localhost:3000")
}

func (Relay) GetWebhookTimeout() time.Duration {
	return GetEnvDuration("WEBHOOK_TIMEOUT", 15*time.Second)
}

type Limits struct{}

var _ LimitsConfig = Limits{}

func (Limits) GetRateLimitPerSecond() float64 {
	return GetEnvFloat("RATE_LIMIT_PER_SECOND", 10)
}

func (Limits) GetRateLimitBurst() int {
	return GetEnvInt("RATE_LIMIT_BURST", 50)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func GetEnvFloat(envVar string, defaultValue float64) float64 {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
