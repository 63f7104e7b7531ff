package di

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-persistence-bun/cache"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config wires one container: which database to open, whether to provision
// a cache backend, and the slow-query capture threshold. A nil Cache section
// is the supported degraded configuration without a backend.
type Config struct {
	Driver             string        `yaml:"driver"`
	DSN                string        `yaml:"dsn"`
	Cache              *cache.Config `yaml:"cache"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// DefaultConfig returns an in-memory sqlite configuration with the default
// cache backend and a 200ms slow-query threshold.
func DefaultConfig() Config {
	cacheCfg := cache.DefaultConfig()
	return Config{
		Driver:             DriverSQLite,
		DSN:                "file::memory:?cache=shared",
		Cache:              &cacheCfg,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.SlowQueryThreshold, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}

	if c.Cache != nil {
		return c.Cache.Validate()
	}
	return nil
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("di: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("di: parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
