package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIX2FIVE_RATE.
const EnvPrefix = "SIX2FIVE"

// Keys shared by flags, environment variables and config files.
const (
	KeyEndpoint     = "endpoint"
	KeyRate         = "rate"
	KeyAttempts     = "attempts"
	KeyInitialDelay = "initial-delay"
	KeyMultiplier   = "multiplier"
	KeyTimeout      = "timeout"
	KeyConcurrency  = "concurrency"
	KeyLockTimeout  = "lock-timeout"
	KeyDryRun       = "dry-run"
	KeyMetricsAddr  = "metrics-addr"
	KeyLogLevel     = "log-level"
	KeyLogFormat    = "log-format"
)

// Resolver configures name lookups against the identity service.
type Resolver struct {
	Endpoint       string
	RatePerSecond  float64
	MaxAttempts    int
	InitialDelay   time.Duration
	Multiplier     float64
	RequestTimeout time.Duration
}

// Transform configures the document walk and file handling.
type Transform struct {
	Concurrency int
	LockTimeout time.Duration
	DryRun      bool
}

// Metrics configures the optional metrics listener. An empty Addr disables it.
type Metrics struct {
	Addr string
}

type Log struct {
	Level  string
	Format string
}

type Config struct {
	Resolver  Resolver
	Transform Transform
	Metrics   Metrics
	Log       Log
}

// Default returns the reference configuration. 0.9 requests per second keeps
// a run under the identity service's 600 requests per 10 minutes.
func Default() Config {
	return Config{
		Resolver: Resolver{
			Endpoint:       "https://sessionserver.mojang.com/session/minecraft/profile",
			RatePerSecond:  0.9,
			MaxAttempts:    5,
			InitialDelay:   time.Second,
			Multiplier:     2.0,
			RequestTimeout: 10 * time.Second,
		},
		Transform: Transform{
			Concurrency: 1,
			LockTimeout: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers Default() on v and enables SIX2FIVE_* overrides.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyEndpoint, d.Resolver.Endpoint)
	v.SetDefault(KeyRate, d.Resolver.RatePerSecond)
	v.SetDefault(KeyAttempts, d.Resolver.MaxAttempts)
	v.SetDefault(KeyInitialDelay, d.Resolver.InitialDelay)
	v.SetDefault(KeyMultiplier, d.Resolver.Multiplier)
	v.SetDefault(KeyTimeout, d.Resolver.RequestTimeout)
	v.SetDefault(KeyConcurrency, d.Transform.Concurrency)
	v.SetDefault(KeyLockTimeout, d.Transform.LockTimeout)
	v.SetDefault(KeyDryRun, d.Transform.DryRun)
	v.SetDefault(KeyMetricsAddr, d.Metrics.Addr)
	v.SetDefault(KeyLogLevel, d.Log.Level)
	v.SetDefault(KeyLogFormat, d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads a Config from v and validates it. Flags must already be bound.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Resolver: Resolver{
			Endpoint:       v.GetString(KeyEndpoint),
			RatePerSecond:  v.GetFloat64(KeyRate),
			MaxAttempts:    v.GetInt(KeyAttempts),
			InitialDelay:   v.GetDuration(KeyInitialDelay),
			Multiplier:     v.GetFloat64(KeyMultiplier),
			RequestTimeout: v.GetDuration(KeyTimeout),
		},
		Transform: Transform{
			Concurrency: v.GetInt(KeyConcurrency),
			LockTimeout: v.GetDuration(KeyLockTimeout),
			DryRun:      v.GetBool(KeyDryRun),
		},
		Metrics: Metrics{Addr: v.GetString(KeyMetricsAddr)},
		Log: Log{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Resolver.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if c.Resolver.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative, got %v", c.Resolver.RatePerSecond))
	}
	if c.Resolver.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("attempts must be at least 1, got %d", c.Resolver.MaxAttempts))
	}
	if c.Resolver.InitialDelay < 0 {
		errs = append(errs, errors.New("initial-delay must not be negative"))
	}
	if c.Resolver.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %v", c.Resolver.Multiplier))
	}
	if c.Resolver.RequestTimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Transform.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Transform.Concurrency))
	}
	if c.Transform.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock-timeout must be positive"))
	}
	return errors.Join(errs...)
}
