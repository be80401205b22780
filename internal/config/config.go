// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"OPAD_DB_PATH" envDefault:"./data/opad.db"`
	ServerHost string `env:"OPAD_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"OPAD_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"OPAD_ENV" envDefault:"development"`
	LogLevel   string `env:"OPAD_LOG_LEVEL" envDefault:"info"`

	// Fanout configuration
	RedisURL  string `env:"OPAD_REDIS_URL"`                    // Optional Redis URL for multi-process fanout
	KeyPrefix string `env:"OPAD_KEY_PREFIX" envDefault:"opad:"` // Redis key/channel prefix

	// Rate limiting for fire-and-forget signal endpoints
	EphemeralRPS   float64 `env:"OPAD_EPHEMERAL_RPS" envDefault:"20"`   // Per-host requests per second
	EphemeralBurst int     `env:"OPAD_EPHEMERAL_BURST" envDefault:"40"` // Per-host burst size
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedis returns true if Redis fanout is configured.
func (c Config) UseRedis() bool {
	return c.RedisURL != ""
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("OPAD_SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.EphemeralRPS <= 0 {
		return nil, fmt.Errorf("OPAD_EPHEMERAL_RPS must be positive, got %v", cfg.EphemeralRPS)
	}

	return cfg, nil
}
