// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the quickauth server configuration from YAML with
// QUICKAUTH_* environment overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-quickauth/internal/password"
	"github.com/jeremyhahn/go-quickauth/pkg/account"
	"github.com/jeremyhahn/go-quickauth/pkg/challenge"
	"github.com/jeremyhahn/go-quickauth/pkg/incident"
	"github.com/jeremyhahn/go-quickauth/pkg/logging"
	"github.com/jeremyhahn/go-quickauth/pkg/ratelimit"
	"github.com/jeremyhahn/go-quickauth/pkg/session"
	"github.com/jeremyhahn/go-quickauth/pkg/store/postgres"
	"github.com/jeremyhahn/go-quickauth/pkg/webauthn"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	SinkLog  = "log"
	SinkAMQP = "amqp"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logging.Config  `yaml:"logging"`
	WebAuthn  webauthn.Config `yaml:"webauthn"`
	Challenge ChallengeConfig `yaml:"challenge"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Session   SessionConfig   `yaml:"session"`
	Password  password.Params `yaml:"password"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChallengeConfig selects the challenge store.
type ChallengeConfig struct {
	Backend string        `yaml:"backend"` // memory, redis
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

// RateLimitConfig controls the sliding-window limits and the HTTP token
// bucket pre-filter.
type RateLimitConfig struct {
	Backend       string                 `yaml:"backend"` // memory, redis, postgres
	Prefix        string                 `yaml:"prefix"`
	Policies      ratelimit.Policies     `yaml:"policies"`
	StoreTimeout  time.Duration          `yaml:"store_timeout"`
	BlockDuration time.Duration          `yaml:"block_duration"`
	HTTP          ratelimit.BucketConfig `yaml:"http"`
}

// SessionConfig controls session and remember-me tokens.
type SessionConfig struct {
	session.Config `yaml:",inline"`
	RememberTTL    time.Duration `yaml:"remember_ttl"`
}

// StorageConfig selects where accounts and credentials live.
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory, file, postgres
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`

	// Timeout bounds each account, credential and challenge store call.
	Timeout time.Duration `yaml:"timeout"`
}

// PostgresConfig contains the PostgreSQL connection settings.
type PostgresConfig struct {
	DSN     string              `yaml:"dsn"`
	Migrate bool                `yaml:"migrate"`
	Pool    postgres.PoolConfig `yaml:"pool"`
}

// RedisConfig is shared by the redis challenge and rate limit stores.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IncidentsConfig selects the security incident sink.
type IncidentsConfig struct {
	Sink string     `yaml:"sink"` // log, amqp
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig contains RabbitMQ settings.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied. It still
// needs a relying party and a session secret before it validates.
func Default() *Config {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.WebAuthn.SetDefaults()

	if c.Challenge.Backend == "" {
		c.Challenge.Backend = BackendMemory
	}
	if c.Challenge.TTL == 0 {
		c.Challenge.TTL = challenge.DefaultTTL
	}
	if c.Challenge.Prefix == "" {
		c.Challenge.Prefix = "quickauth:challenge:"
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = BackendMemory
	}
	if c.RateLimit.Prefix == "" {
		c.RateLimit.Prefix = "quickauth:ratelimit:"
	}
	c.RateLimit.Policies.SetDefaults()
	if c.RateLimit.StoreTimeout == 0 {
		c.RateLimit.StoreTimeout = ratelimit.DefaultStoreTimeout
	}
	if c.RateLimit.BlockDuration == 0 {
		c.RateLimit.BlockDuration = ratelimit.DefaultBlockDuration
	}

	c.Session.Config.SetDefaults()
	if c.Session.RememberTTL == 0 {
		c.Session.RememberTTL = session.DefaultRememberTTL
	}

	if c.Password == (password.Params{}) {
		c.Password = password.DefaultParams()
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = account.DefaultStoreTimeout
	}
	if c.Storage.Postgres.Pool == (postgres.PoolConfig{}) {
		c.Storage.Postgres.Pool = postgres.DefaultPoolConfig()
	}

	if c.Incidents.Sink == "" {
		c.Incidents.Sink = SinkLog
	}
	if c.Incidents.AMQP.Exchange == "" {
		c.Incidents.AMQP.Exchange = incident.DefaultExchange
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("QUICKAUTH_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if raw := os.Getenv("QUICKAUTH_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid QUICKAUTH_PORT value %q, keeping %d", raw, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv("QUICKAUTH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("QUICKAUTH_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if id := os.Getenv("QUICKAUTH_RP_ID"); id != "" {
		cfg.WebAuthn.RPID = id
	}
	if name := os.Getenv("QUICKAUTH_RP_NAME"); name != "" {
		cfg.WebAuthn.RPDisplayName = name
	}
	if origins := os.Getenv("QUICKAUTH_RP_ORIGINS"); origins != "" {
		cfg.WebAuthn.RPOrigins = splitList(origins)
	}

	if secret := os.Getenv("QUICKAUTH_SESSION_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	if backend := os.Getenv("QUICKAUTH_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv("QUICKAUTH_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if dsn := os.Getenv("QUICKAUTH_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}

	if addr := os.Getenv("QUICKAUTH_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("QUICKAUTH_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}

	if url := os.Getenv("QUICKAUTH_AMQP_URL"); url != "" {
		cfg.Incidents.AMQP.URL = url
		cfg.Incidents.Sink = SinkAMQP
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS cert_file and key_file are required when TLS is enabled")
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	switch c.Challenge.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis challenge store")
		}
	default:
		return fmt.Errorf("invalid challenge backend: %s (must be memory or redis)", c.Challenge.Backend)
	}
	if c.Challenge.TTL < 0 {
		return fmt.Errorf("challenge ttl must not be negative")
	}

	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis rate limit store")
		}
	case BackendPostgres:
		if c.Storage.Backend != BackendPostgres {
			return fmt.Errorf("postgres rate limit store requires the postgres storage backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory, redis or postgres)", c.RateLimit.Backend)
	}
	if err := c.RateLimit.Policies.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}

	if err := c.Session.Config.Validate(); err != nil {
		return err
	}
	if err := c.Password.Validate(); err != nil {
		return fmt.Errorf("password: %w", err)
	}

	if c.Storage.Timeout < 0 {
		return fmt.Errorf("storage timeout must not be negative")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn must be specified for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, file or postgres)", c.Storage.Backend)
	}

	switch c.Incidents.Sink {
	case SinkLog:
	case SinkAMQP:
		if c.Incidents.AMQP.URL == "" {
			return fmt.Errorf("amqp url is required for the amqp incident sink")
		}
	default:
		return fmt.Errorf("invalid incident sink: %s (must be log or amqp)", c.Incidents.Sink)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %s", c.Metrics.Path)
	}
	return nil
}
