// Package config loads the YAML configuration for the ingestion process.
// cmd/ingest layers flag overrides on top of the loaded values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Sync    SyncConfig    `yaml:"sync"`
	Stores  StoresConfig  `yaml:"stores"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ChainConfig struct {
	WSEndpoint   string `yaml:"ws_endpoint"`
	HTTPEndpoint string `yaml:"http_endpoint"`

	// TokenAddress is the fungible token contract; balance reads go here.
	TokenAddress string `yaml:"token_address"`

	// Addresses is the full contract set the log subscription filters on.
	Addresses []string `yaml:"addresses"`
}

type SyncConfig struct {
	// TokenDecimals is the fungible token's decimal scale.
	TokenDecimals int `yaml:"token_decimals"`

	// UnitBatchSize bounds fresh-unit acquisition per claim iteration.
	UnitBatchSize int64 `yaml:"unit_batch_size"`

	// DenyList holds infrastructure addresses excluded from reconciliation.
	DenyList []string `yaml:"deny_list"`
}

type StoresConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	Capacity      int           `yaml:"capacity"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Sync.TokenDecimals == 0 {
		c.Sync.TokenDecimals = 18
	}
	if c.Sync.UnitBatchSize == 0 {
		c.Sync.UnitBatchSize = 3
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 180000 * time.Second
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 1000
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate reports missing required fields for live operation.
func (c *Config) Validate() error {
	if c.Chain.WSEndpoint == "" {
		return fmt.Errorf("chain.ws_endpoint is required")
	}
	if c.Chain.HTTPEndpoint == "" {
		return fmt.Errorf("chain.http_endpoint is required")
	}
	if c.Chain.TokenAddress == "" {
		return fmt.Errorf("chain.token_address is required")
	}
	if len(c.Chain.Addresses) == 0 {
		return fmt.Errorf("chain.addresses must list at least one contract")
	}
	return nil
}
