// Package config loads the caching layer configuration from YAML,
// merging file contents over built-in defaults.
package config

import (
	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentcache/cache"
	"github.com/BaSui01/agentcache/pool"
	"github.com/BaSui01/agentcache/querycache"
	"github.com/BaSui01/agentcache/state"
)

// RedisConfig describes the shared Redis client.
type RedisConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// StateConfig groups the persistence settings.
type StateConfig struct {
	Optimizer state.Options         `yaml:"optimizer" json:"optimizer"`
	Store     state.GormStoreConfig `yaml:"store" json:"store"`
}

// Config is the root configuration for the caching and persistence
// layer.
type Config struct {
	Redis            RedisConfig       `yaml:"redis" json:"redis"`
	TTLCache         cache.Config      `yaml:"ttl_cache" json:"ttl_cache"`
	Pool             pool.Config       `yaml:"pool" json:"pool"`
	QueryCache       querycache.Config `yaml:"query_cache" json:"query_cache"`
	State            StateConfig       `yaml:"state" json:"state"`
	MetricsNamespace string            `yaml:"metrics_namespace" json:"metrics_namespace"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			MaxRetries:   3,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		TTLCache:   cache.DefaultConfig(),
		Pool:       pool.DefaultConfig(),
		QueryCache: querycache.DefaultConfig(),
		State: StateConfig{
			Optimizer: state.DefaultOptions(),
			Store:     state.DefaultGormStoreConfig(),
		},
		MetricsNamespace: "agentcache",
	}
}

// NewRedisClient builds the shared Redis client from cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}
