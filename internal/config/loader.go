package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cartouche/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. CARTOUCHE_TRUST_STORE.
const EnvPrefix = "CARTOUCHE_"

// Load reads the YAML file at path, applies environment overrides and validates
// the result. An empty path reads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	optional := path == ""
	if optional {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults, then applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.Client.MaxRedirects < 0 {
		return fmt.Errorf("client.max_redirects must not be negative")
	}

	switch cfg.Trust.Store {
	case StoreFile:
		if cfg.Trust.Path == "" {
			return fmt.Errorf("trust.path is required for the file store")
		}
	case StoreRedis:
		if cfg.Trust.RedisURL == "" {
			return fmt.Errorf("trust.redis_url is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("trust.store %q is not one of file, memory, redis", cfg.Trust.Store)
	}

	switch cfg.Trust.Policy {
	case PolicyPrompt, PolicyAbort, PolicyOnce, PolicyAlways:
	case PolicyScript:
		if cfg.Trust.Script == "" {
			return fmt.Errorf("trust.script is required for the script policy")
		}
	default:
		return fmt.Errorf("trust.policy %q is not one of prompt, abort, once, always, script", cfg.Trust.Policy)
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logger.ParseFormat(cfg.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	for i, c := range cfg.Watch.Capsules {
		if c.URL == "" {
			return fmt.Errorf("watch.capsules[%d]: url is required", i)
		}
		if _, err := url.Parse(c.URL); err != nil {
			return fmt.Errorf("watch.capsules[%d]: %w", i, err)
		}
		if c.Name == "" {
			cfg.Watch.Capsules[i].Name = c.URL
		}
		if c.Timeout <= 0 {
			cfg.Watch.Capsules[i].Timeout = cfg.Watch.Timeout
		}
	}

	return nil
}

// Validate checks the settings only the watch command needs.
func (w Watch) Validate() error {
	if len(w.Capsules) == 0 {
		return fmt.Errorf("at least one capsule is required")
	}
	if w.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive")
	}
	if w.Concurrency <= 0 {
		return fmt.Errorf("watch.concurrency must be positive")
	}
	if w.Rate < 0 {
		return fmt.Errorf("watch.rate must not be negative")
	}
	return nil
}
