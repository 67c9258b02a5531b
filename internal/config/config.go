package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds terminal-level settings, populated from POS_* environment
// variables. An empty DatabasePath selects the in-memory store (dev mode).
type Config struct {
	DatabasePath           string `envconfig:"DATABASE_PATH"`
	StoreName              string `envconfig:"STORE_NAME" default:"main-store"`
	TerminalID             string `envconfig:"TERMINAL_ID" default:"terminal-1"`
	OperatorID             string `envconfig:"OPERATOR_ID" default:"operator-1"`
	RedisAddr              string `envconfig:"REDIS_ADDR"`
	RedisPassword          string `envconfig:"REDIS_PASSWORD"`
	RedisDB                int    `envconfig:"REDIS_DB" default:"0"`
	ProductCacheTTLSeconds int    `envconfig:"PRODUCT_CACHE_TTL_SECONDS" default:"60"`
	SyncMaxRetries         int    `envconfig:"SYNC_MAX_RETRIES" default:"5"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("pos", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.ProductCacheTTLSeconds < 1 {
		cfg.ProductCacheTTLSeconds = 60
	}
	if cfg.SyncMaxRetries < 0 {
		cfg.SyncMaxRetries = 5
	}
	return cfg, nil
}
