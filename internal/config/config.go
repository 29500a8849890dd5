// Package config loads the coordinator's runtime configuration from its
// COORD_* environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-sourced setting.
type Config struct {
	ListenAddr string `env:"COORD_LISTEN_ADDR" envDefault:"0.0.0.0:8080"`

	StorePath    string `env:"COORD_STORE_PATH" envDefault:"./data/interactions"`
	SnapshotPath string `env:"COORD_SNAPSHOT_PATH" envDefault:"./data/snapshot.json"`

	MasterSecret     string `env:"COORD_MASTER_SECRET"`
	StaticTokensPath string `env:"COORD_STATIC_TOKENS_PATH"`

	LogLevel string `env:"COORD_LOG_LEVEL" envDefault:"info"`

	HeartbeatSoftS int `env:"COORD_HEARTBEAT_SOFT_S" envDefault:"30"`
	HeartbeatHardS int `env:"COORD_HEARTBEAT_HARD_S" envDefault:"90"`

	IngestQueueCap int `env:"COORD_INGEST_QUEUE_CAP" envDefault:"10000"`
	RetentionDays  int `env:"COORD_RETENTION_DAYS" envDefault:"30"`

	CORSAllowedOrigins []string `env:"COORD_CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// RedisURL optionally fronts the durable interaction log with a
	// read-through point-lookup cache (internal/logpipeline.RedisCache).
	// Left empty, the coordinator runs on its in-process LRU alone.
	RedisURL string `env:"COORD_REDIS_URL"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}
