// Package config loads client settings from the environment, an optional .env
// file, or a YAML file, and turns them into resilient options.
//
// Environment variables carry the RESILIENT_ prefix:
//
//	RESILIENT_BASE_URL=https://api.example.com
//	RESILIENT_API_KEY=secret
//	RESILIENT_REQUESTS_PER_SECOND=10
//	RESILIENT_REDIS_URL=redis://localhost:6379/0
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	resilient "github.com/egorkaBurkenya/resilient-api"
	"github.com/egorkaBurkenya/resilient-api/ratelimit"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "RESILIENT_"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds client settings. Durations accept Go syntax such as "500ms".
type Config struct {
	BaseURL   string        `env:"BASE_URL" yaml:"base_url"`
	APIKey    string        `env:"API_KEY" yaml:"api_key"`
	UserAgent string        `env:"USER_AGENT" yaml:"user_agent"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s" yaml:"timeout"`
	// APIKeyHeader names the header that carries APIKey.
	APIKeyHeader string `env:"API_KEY_HEADER" envDefault:"X-Api-Key" yaml:"api_key_header"`

	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3" yaml:"max_retries"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"60s" yaml:"max_backoff"`
	Jitter         float64       `env:"JITTER" envDefault:"0" yaml:"jitter"`

	RateLimit         bool    `env:"RATE_LIMIT" envDefault:"true" yaml:"rate_limit"`
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"30" yaml:"requests_per_second"`
	BurstLimit        int     `env:"BURST_LIMIT" envDefault:"60" yaml:"burst_limit"`
	Adaptive          bool    `env:"ADAPTIVE" envDefault:"true" yaml:"adaptive"`

	// RedisURL, when set, moves the recent-request window to Redis so several
	// processes report a shared requests-per-minute figure.
	RedisURL string `env:"REDIS_URL" yaml:"redis_url"`
	RedisKey string `env:"REDIS_KEY" envDefault:"resilient:recent_requests" yaml:"redis_key"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
}

// Default returns the built-in settings, ignoring the environment.
func Default() Config {
	var cfg Config
	// Parsing against an empty environment applies only the envDefault tags.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return cfg
}

// Load reads the given .env files, or ./.env when none are named and it
// exists, then parses RESILIENT_* variables. Variables already set in the
// process environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file on top of the defaults. Keys missing from the file
// keep their default values.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.RateLimit {
		if c.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("requests_per_second must be > 0, got %v", c.RequestsPerSecond))
		}
		if c.BurstLimit < 1 {
			errs = append(errs, fmt.Errorf("burst_limit must be >= 1, got %d", c.BurstLimit))
		}
	}
	if c.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("initial_backoff must be > 0, got %s", c.InitialBackoff))
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, fmt.Errorf("max_backoff %s is below initial_backoff %s", c.MaxBackoff, c.InitialBackoff))
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter must be in [0, 1), got %v", c.Jitter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Options converts c into client options. When RedisURL is set the returned
// options carry a Redis-backed window owned by the client; Client.Close closes it.
func (c Config) Options() ([]resilient.Option, error) {
	opts := []resilient.Option{
		resilient.WithTimeout(c.Timeout),
		resilient.WithRetry(c.MaxRetries, c.InitialBackoff),
		resilient.WithMaxBackoff(c.MaxBackoff),
		resilient.WithJitter(c.Jitter),
		resilient.WithAdaptive(c.Adaptive),
	}
	if c.BaseURL != "" {
		opts = append(opts, resilient.WithBaseURL(c.BaseURL))
	}
	if c.APIKey != "" {
		opts = append(opts, resilient.WithHeader(c.APIKeyHeader, c.APIKey))
	}
	if c.UserAgent != "" {
		opts = append(opts, resilient.WithUserAgent(c.UserAgent))
	}

	if !c.RateLimit {
		return append(opts, resilient.WithoutRateLimit()), nil
	}
	opts = append(opts, resilient.WithRateLimit(c.RequestsPerSecond, c.BurstLimit))

	if c.RedisURL != "" {
		ropts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		w := ratelimit.NewRedisWindow(redis.NewClient(ropts), c.RedisKey)
		opts = append(opts, resilient.WithOwnedWindow(w))
	}
	return opts, nil
}

// NewClient builds a client from c followed by extra options.
func (c Config) NewClient(extra ...resilient.Option) (*resilient.Client, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return resilient.New(append(opts, extra...)...), nil
}
