package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Client  Client  `yaml:"client" envPrefix:"CLIENT_"`
	Trust   Trust   `yaml:"trust" envPrefix:"TRUST_"`
	Log     Log     `yaml:"log" envPrefix:"LOG_"`
	Watch   Watch   `yaml:"watch" envPrefix:"WATCH_"`
	Metrics Metrics `yaml:"metrics" envPrefix:"METRICS_"`
}

// Client configures outgoing requests.
type Client struct {
	DialTimeout   time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	MaxInterrupts int           `yaml:"max_interrupts" env:"MAX_INTERRUPTS"`
	MaxRedirects  int           `yaml:"max_redirects" env:"MAX_REDIRECTS"`
}

// StoreKind names a trust cache backend.
type StoreKind string

const (
	StoreFile   StoreKind = "file"
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
)

// PolicyKind names how unknown certificates are decided.
type PolicyKind string

const (
	PolicyPrompt PolicyKind = "prompt"
	PolicyAbort  PolicyKind = "abort"
	PolicyOnce   PolicyKind = "once"
	PolicyAlways PolicyKind = "always"
	PolicyScript PolicyKind = "script"
)

// Trust configures certificate trust storage and policy.
type Trust struct {
	Store       StoreKind     `yaml:"store" env:"STORE"`
	Path        string        `yaml:"path" env:"PATH"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	OnceTTL     time.Duration `yaml:"once_ttl" env:"ONCE_TTL"`
	Policy      PolicyKind    `yaml:"policy" env:"POLICY"`
	Script      string        `yaml:"script,omitempty" env:"SCRIPT"`
}

// Log configures logging output.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	File   string `yaml:"file,omitempty" env:"FILE"`
}

// Watch configures periodic capsule probing.
type Watch struct {
	Capsules    []Capsule     `yaml:"capsules"`
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
	Rate        float64       `yaml:"rate" env:"RATE"`
}

// Capsule is a single probed URL.
type Capsule struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Metrics configures Prometheus metrics.
type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Address string `yaml:"address" env:"ADDRESS"`
	Path    string `yaml:"path" env:"PATH"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: Client{
			DialTimeout:   10 * time.Second,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  10 * time.Second,
			MaxInterrupts: 16,
			MaxRedirects:  5,
		},
		Trust: Trust{
			Store:       StoreFile,
			Path:        filepath.Join(Dir(), "known_hosts.yaml"),
			RedisPrefix: "cartouche:trust:",
			OnceTTL:     time.Hour,
			Policy:      PolicyPrompt,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Watch: Watch{
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			Concurrency: 4,
			Rate:        2,
		},
		Metrics: Metrics{
			Enabled: true,
			Address: ":9465",
			Path:    "/metrics",
		},
	}
}

// Dir is the per-user configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".cartouche"
	}
	return filepath.Join(base, "cartouche")
}

// DefaultPath is the configuration file read when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}
