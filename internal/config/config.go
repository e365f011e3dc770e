// Package config loads process settings from the environment and agent personas from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/keshon/companion/internal/ai"
	"github.com/keshon/companion/internal/dispatch"
	"github.com/keshon/companion/internal/mind"
	"github.com/keshon/companion/internal/storage"
)

// State backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	Production   bool   `env:"PRODUCTION" envDefault:"false"`
	LogLevel     string `env:"LOG_LEVEL"`
	PersonasPath string `env:"PERSONAS_PATH" envDefault:"personas.yaml"`
	DBPath       string `env:"DB_PATH" envDefault:"data/companion.db"`
	StatePath    string `env:"STORAGE_PATH" envDefault:"data/state.json"`
	StateBackend string `env:"STATE_BACKEND" envDefault:"file"`
	BusCapacity  int    `env:"BUS_CAPACITY" envDefault:"64"`

	AI       ai.Config
	Dispatch dispatch.Config
	Mind     mind.Config
	Redis    storage.RedisConfig
}

// LoadDotEnv reads .env into the environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// Parse fills any env-tagged struct.
func Parse(v any) error {
	if err := env.Parse(v); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads .env and the environment.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unsupported STATE_BACKEND: %s", c.StateBackend)
	}
	if c.BusCapacity <= 0 {
		return fmt.Errorf("BUS_CAPACITY must be positive, got %d", c.BusCapacity)
	}
	if c.Mind.DayStartHour < 0 || c.Mind.DayEndHour > 24 || c.Mind.DayStartHour >= c.Mind.DayEndHour {
		return fmt.Errorf("invalid day window [%d,%d)", c.Mind.DayStartHour, c.Mind.DayEndHour)
	}
	return nil
}
