// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then MONA_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SecretsDir   = "dir"
	SecretsRedis = "redis"
)

// SecretsConfig selects and configures the key store.
type SecretsConfig struct {
	Backend     string `yaml:"backend"`      // "dir" (default) or "redis"
	Dir         string `yaml:"dir"`          // root of the directory store
	AgeIdentity string `yaml:"age_identity"` // optional age identity file; encrypts keys at rest
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// Config holds the settings for cmd/api and cmd/authctl.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`    // gRPC health service; empty disables it
	DatabaseDSN string `yaml:"database_dsn"` // postgres://... or sqlite:<path>
	SeedsDir    string `yaml:"seeds_dir"`
	LogLevel    string `yaml:"log_level"`

	Secrets SecretsConfig `yaml:"secrets"`

	SessionTTL      time.Duration `yaml:"session_ttl"`
	VerificationTTL time.Duration `yaml:"verification_ttl"`
	BaseURL         string        `yaml:"base_url"`

	RateLimitRPS       float64  `yaml:"rate_limit_rps"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Dev runs against an in-memory store when no database is configured.
	Dev bool `yaml:"dev"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		GRPCAddr:   ":9090",
		LogLevel:   "info",
		Secrets: SecretsConfig{
			Backend:     SecretsDir,
			Dir:         "secrets",
			RedisPrefix: "mona:secret:",
		},
		SessionTTL:      30 * 24 * time.Hour,
		VerificationTTL: time.Hour,
		BaseURL:         "http://localhost:8080",
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the environment and finally overrides (command-line
// flags). The result is validated.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(raw); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("MONA_LISTEN_ADDR", &c.ListenAddr)
	str("MONA_GRPC_ADDR", &c.GRPCAddr)
	str("MONA_DATABASE_DSN", &c.DatabaseDSN)
	str("MONA_SEEDS_DIR", &c.SeedsDir)
	str("MONA_LOG_LEVEL", &c.LogLevel)
	str("MONA_SECRETS_BACKEND", &c.Secrets.Backend)
	str("MONA_SECRETS_DIR", &c.Secrets.Dir)
	str("MONA_AGE_IDENTITY", &c.Secrets.AgeIdentity)
	str("MONA_REDIS_ADDR", &c.Secrets.RedisAddr)
	str("MONA_REDIS_PREFIX", &c.Secrets.RedisPrefix)
	str("MONA_BASE_URL", &c.BaseURL)

	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	dur("MONA_SESSION_TTL", &c.SessionTTL)
	dur("MONA_VERIFICATION_TTL", &c.VerificationTTL)

	if v, ok := lookup("MONA_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MONA_RATE_LIMIT_RPS: %w", err))
		} else {
			c.RateLimitRPS = f
		}
	}
	if v, ok := lookup("MONA_RATE_LIMIT_BURST"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("MONA_RATE_LIMIT_BURST: %w", err))
		} else {
			c.RateLimitBurst = n
		}
	}
	if v, ok := lookup("MONA_CORS_ALLOWED_ORIGINS"); ok {
		c.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := lookup("MONA_DEV"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("MONA_DEV: %w", err))
		} else {
			c.Dev = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DatabaseDSN == "" && !c.Dev {
		errs = append(errs, errors.New("database_dsn is required unless dev is set"))
	}
	switch c.Secrets.Backend {
	case SecretsDir:
		if c.Secrets.Dir == "" {
			errs = append(errs, errors.New("secrets.dir is required for the dir backend"))
		}
	case SecretsRedis:
		if c.Secrets.RedisAddr == "" {
			errs = append(errs, errors.New("secrets.redis_addr is required for the redis backend"))
		}
		if c.Secrets.AgeIdentity != "" {
			errs = append(errs, errors.New("secrets.age_identity is only supported by the dir backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.VerificationTTL <= 0 {
		errs = append(errs, errors.New("verification_ttl must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate_limit_rps and rate_limit_burst must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
