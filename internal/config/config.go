// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration. Every field can be set from the
// environment; cmd/server lets flags override the essentials.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	JWTSecret string `env:"JWT_SECRET"`

	FileCacheURL     string        `env:"FILECACHE_URL"`
	FileCacheTimeout time.Duration `env:"FILECACHE_TIMEOUT" envDefault:"10s"`

	DispatcherWorkers int `env:"DISPATCHER_WORKERS" envDefault:"4"`
	DispatcherQueue   int `env:"DISPATCHER_QUEUE" envDefault:"256"`

	KeymasterLatencyMax time.Duration `env:"KEYMASTER_LATENCY_MAX" envDefault:"10s"`
	KeymasterPenalty    time.Duration `env:"KEYMASTER_PENALTY" envDefault:"5s"`
	RekeyRetries        uint64        `env:"REKEY_RETRIES" envDefault:"4"`
	RekeyBackoff        time.Duration `env:"REKEY_BACKOFF" envDefault:"500ms"`

	LoginWindow   time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
	LoginMaxFails int           `env:"LOGIN_MAX_FAILS" envDefault:"5"`
	LoginBlockFor time.Duration `env:"LOGIN_BLOCK_FOR" envDefault:"15m"`

	KeyRequestTimeout time.Duration `env:"KEY_REQUEST_TIMEOUT" envDefault:"30s"`
	PingInterval      time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
}

// FromEnv parses the configuration from environment variables.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("database DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required")
	}
	return nil
}
