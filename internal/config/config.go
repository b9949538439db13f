package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/52poke/sitecache/internal/manifest"
	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory = "memory"
	StoreS3     = "s3"
	StoreRedis  = "redis"
)

type Config struct {
	ListenAddr           string   `env:"SITECACHE_LISTEN_ADDR" envDefault:":8080"`
	OriginBaseURL        string   `env:"SITECACHE_ORIGIN_BASE_URL"`
	SiteHost             string   `env:"SITECACHE_SITE_HOST"`
	CachePrefix          string   `env:"SITECACHE_CACHE_PREFIX" envDefault:"scanner-offline-site"`
	CacheVersion         string   `env:"SITECACHE_CACHE_VERSION" envDefault:"v2"`
	Manifest             []string `env:"SITECACHE_MANIFEST" envSeparator:","`
	Store                string   `env:"SITECACHE_STORE" envDefault:"memory"`
	RedisAddr            string   `env:"SITECACHE_REDIS_ADDR"`
	RedisDB              int      `env:"SITECACHE_REDIS_DB" envDefault:"0"`
	RedisPassword        string   `env:"SITECACHE_REDIS_PASSWORD"`
	RedisNamespace       string   `env:"SITECACHE_REDIS_NAMESPACE" envDefault:"sitecache"`
	S3Endpoint           string   `env:"SITECACHE_S3_ENDPOINT"`
	S3Region             string   `env:"SITECACHE_S3_REGION"`
	S3Bucket             string   `env:"SITECACHE_S3_BUCKET"`
	S3Prefix             string   `env:"SITECACHE_S3_PREFIX" envDefault:"sitecache"`
	S3AccessKey          string   `env:"SITECACHE_S3_ACCESS_KEY"`
	S3SecretKey          string   `env:"SITECACHE_S3_SECRET_KEY"`
	NginxPurgeURL        string   `env:"SITECACHE_NGINX_PURGE_URL"`
	OriginTimeoutSeconds int      `env:"SITECACHE_ORIGIN_TIMEOUT_SECONDS" envDefault:"10"`
	WriteTimeoutSeconds  int      `env:"SITECACHE_WRITE_TIMEOUT_SECONDS" envDefault:"10"`
	LockTTLSeconds       int      `env:"SITECACHE_LOCK_TTL_SECONDS" envDefault:"45"`
	LogLevel             string   `env:"SITECACHE_LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if cfg.OriginBaseURL == "" {
		return cfg, errors.New("SITECACHE_ORIGIN_BASE_URL is required")
	}
	if strings.TrimSpace(cfg.CacheVersion) == "" {
		return cfg, errors.New("SITECACHE_CACHE_VERSION is required")
	}
	if strings.Contains(cfg.CachePrefix+cfg.CacheVersion, "/") {
		return cfg, errors.New("cache prefix and version must not contain '/'")
	}

	entries := cfg.Manifest
	if len(entries) == 0 {
		entries = manifest.Default
	}
	m, err := manifest.Parse(entries)
	if err != nil {
		return cfg, err
	}
	cfg.Manifest = m

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if !slices.Contains([]string{StoreMemory, StoreS3, StoreRedis}, cfg.Store) {
		return cfg, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.Store == StoreRedis && cfg.RedisAddr == "" {
		return cfg, errors.New("SITECACHE_REDIS_ADDR is required for the redis store")
	}
	if cfg.Store == StoreS3 {
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return cfg, errors.New("S3 endpoint/bucket/access/secret are required")
		}
	}
	return cfg, nil
}

func (c Config) OriginTimeout() time.Duration {
	return time.Duration(c.OriginTimeoutSeconds) * time.Second
}

func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
