package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Loop    LoopConfig
	Host    HostConfig
	Admin   AdminConfig
	Logging LogConfig
}

// LoopConfig controls the event loop's fixed-capacity resources.
type LoopConfig struct {
	EventPoolCapacity   int `envconfig:"LOOP_EVENT_POOL_CAPACITY" default:"1024"`
	InboundQueueCapacity int `envconfig:"LOOP_INBOUND_QUEUE_CAPACITY" default:"256"`
	MaxNanoapps         int `envconfig:"LOOP_MAX_NANOAPPS" default:"64"`
}

// HostConfig controls the host communications adapter.
type HostConfig struct {
	SocketPath          string `envconfig:"HOST_SOCKET_PATH" default:"/tmp/chre.sock"`
	ReconnectInitialMs   int    `envconfig:"HOST_RECONNECT_INITIAL_MS" default:"500"`
	ReconnectMaxMs       int    `envconfig:"HOST_RECONNECT_MAX_MS" default:"300000"`
	ReconnectMaxAttempts int    `envconfig:"HOST_RECONNECT_MAX_ATTEMPTS" default:"40"`
	MessageRateLimit     int    `envconfig:"HOST_MESSAGE_RATE_LIMIT" default:"500"`
}

// AdminConfig controls the supplemental operator HTTP/WS surface.
type AdminConfig struct {
	Addr        string `envconfig:"ADMIN_ADDR" default:"0.0.0.0:6172"`
	Enabled     bool   `envconfig:"ADMIN_ENABLED" default:"true"`
	CORSOrigins []string `envconfig:"ADMIN_CORS_ORIGINS" default:"*"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment, falling back to
// Default() if any environment value fails to parse.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			EventPoolCapacity:    1024,
			InboundQueueCapacity: 256,
			MaxNanoapps:          64,
		},
		Host: HostConfig{
			SocketPath:           "/tmp/chre.sock",
			ReconnectInitialMs:   500,
			ReconnectMaxMs:       300000,
			ReconnectMaxAttempts: 40,
			MessageRateLimit:     500,
		},
		Admin: AdminConfig{
			Addr:        "0.0.0.0:6172",
			Enabled:     true,
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
