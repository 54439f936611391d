// Package config loads cellgrid settings from an optional YAML file plus
// CELLGRID_-prefixed environment variables, and wires a configured table.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cellgrid-lab/cellgrid/store"
	"github.com/cellgrid-lab/cellgrid/table"
)

// Config is the top-level cellgrid configuration.
type Config struct {
	Store StoreConfig `koanf:"store"`
	Table TableConfig `koanf:"table"`
}

type StoreConfig struct {
	// Dir is the directory holding the badger database.
	Dir string `koanf:"dir"`
	// Namespace scopes this table's pages within the database.
	Namespace string `koanf:"namespace"`
	// CacheCapacity bounds the number of resident pages.
	CacheCapacity int `koanf:"cache_capacity"`
}

type TableConfig struct {
	ReadOnly bool `koanf:"read_only"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Dir) == "" {
		return fmt.Errorf("store.dir is required")
	}
	if strings.TrimSpace(c.Store.Namespace) == "" {
		return fmt.Errorf("store.namespace is required")
	}
	if strings.Contains(c.Store.Namespace, "/") {
		return fmt.Errorf("invalid store.namespace %q (must not contain '/')", c.Store.Namespace)
	}
	if c.Store.CacheCapacity <= 0 {
		return fmt.Errorf("store.cache_capacity must be > 0")
	}
	return nil
}

// Load parses config from file + env and validates it. An empty configPath
// skips the file layer.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"store.dir":            "./cellgrid-data",
		"store.namespace":      "default",
		"store.cache_capacity": store.DefaultCapacity,
		"table.read_only":      false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CELLGRID_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CELLGRID_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Open builds the configured badger backend, creates the table and opens
// it. The caller owns the returned table and must Close it.
func Open(ctx context.Context, cfg *Config) (*table.Table, error) {
	backend, err := store.OpenBadger(cfg.Store.Dir, cfg.Store.Namespace)
	if err != nil {
		return nil, err
	}
	tb := table.NewWithOptions(backend, table.Options{
		CacheCapacity: cfg.Store.CacheCapacity,
		ReadOnly:      cfg.Table.ReadOnly,
	})
	if err := tb.Open(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return tb, nil
}
