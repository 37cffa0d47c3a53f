// Package config loads node configuration from a YAML file with environment
// overrides for deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full node configuration.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Cache struct {
		TTLMilliseconds int64 `yaml:"ttlMilliseconds"`
	} `yaml:"cache"`

	// MaxAllowedDelayMilliseconds bounds how far back the default query
	// window reaches from now.
	MaxAllowedDelayMilliseconds int64 `yaml:"maxAllowedDelayMilliseconds"`

	RateLimit struct {
		RequestsPerSecond int `yaml:"requestsPerSecond"`
		Burst             int `yaml:"burst"`
	} `yaml:"rateLimit"`

	Registry struct {
		File           string `yaml:"file"`
		RefreshSeconds int    `yaml:"refreshSeconds"`
	} `yaml:"registry"`

	Broadcast struct {
		RedisURL    string   `yaml:"redisUrl"`
		RedisStream string   `yaml:"redisStream"`
		WebhookURLs []string `yaml:"webhookUrls"`
	} `yaml:"broadcast"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Defaults applied when the file and environment leave a field unset.
const (
	defaultListenAddr = ":3000"
	defaultCacheTTL   = 10_000
	defaultMaxDelay   = 180_000
	defaultRPS        = 50
	defaultBurst      = 100
)

// Load reads path (optional; empty means defaults only) and applies
// CACHENODE_* environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.Registry.File == "" {
		return Config{}, fmt.Errorf("registry.file is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CACHENODE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CACHENODE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("CACHENODE_REGISTRY_FILE"); v != "" {
		cfg.Registry.File = v
	}
	if v := os.Getenv("CACHENODE_REDIS_URL"); v != "" {
		cfg.Broadcast.RedisURL = v
	}
	if v := os.Getenv("CACHENODE_CACHE_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.TTLMilliseconds = ms
		}
	}
	if v := os.Getenv("CACHENODE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Cache.TTLMilliseconds == 0 {
		cfg.Cache.TTLMilliseconds = defaultCacheTTL
	}
	if cfg.MaxAllowedDelayMilliseconds == 0 {
		cfg.MaxAllowedDelayMilliseconds = defaultMaxDelay
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRPS
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.Registry.RefreshSeconds == 0 {
		cfg.Registry.RefreshSeconds = 60
	}
}

// CacheTTL returns the cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMilliseconds) * time.Millisecond
}

// MaxAllowedDelay returns the default window span as a duration.
func (c Config) MaxAllowedDelay() time.Duration {
	return time.Duration(c.MaxAllowedDelayMilliseconds) * time.Millisecond
}

// RegistryRefresh returns the registry refresh interval.
func (c Config) RegistryRefresh() time.Duration {
	return time.Duration(c.Registry.RefreshSeconds) * time.Second
}
