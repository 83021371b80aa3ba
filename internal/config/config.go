// Package config loads the auction engine configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AiSchool-Admin/maksab-sub003/internal/bidding"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        // default "8080"
	ReadTimeout     time.Duration // default 10s
	WriteTimeout    time.Duration // default 10s
	ShutdownTimeout time.Duration // default 10s
}

// StorageConfig selects and tunes the persistence backends. An empty
// DatabaseURL selects the in-memory store.
type StorageConfig struct {
	DatabaseURL string
	RedisURL    string        // optional read-through cache and Pub/Sub
	CacheTTL    time.Duration // default 30s
	LockTimeout time.Duration // default 2s
	ListingsDSN string        // optional; in-memory listings when empty
}

// NotifyConfig holds notification fan-out settings.
type NotifyConfig struct {
	NATSURL   string // optional JetStream publisher
	QueueSize int    // default 1024
}

// SweepConfig tunes the settlement sweep.
type SweepConfig struct {
	Interval  time.Duration // default 5s
	BatchSize int           // default 100
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string // default "maksab"
}

// Config is the root configuration object.
type Config struct {
	Server          ServerConfig
	Storage         StorageConfig
	Notify          NotifyConfig
	Sweep           SweepConfig
	Auth            AuthConfig
	Bidding         bidding.Policy
	RecentBidsLimit int // default 20
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. Missing variables fall back
// to their defaults; malformed values are errors.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	def := bidding.DefaultPolicy()

	cfg := &Config{
		Server: ServerConfig{
			Port:            e.str("PORT", "8080"),
			ReadTimeout:     e.duration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    e.duration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			DatabaseURL: e.str("DATABASE_URL", ""),
			RedisURL:    e.str("REDIS_URL", ""),
			CacheTTL:    e.duration("CACHE_TTL", 30*time.Second),
			LockTimeout: e.duration("LOCK_TIMEOUT", 2*time.Second),
			ListingsDSN: e.str("LISTINGS_DSN", ""),
		},
		Notify: NotifyConfig{
			NATSURL:   e.str("NATS_URL", ""),
			QueueSize: e.int("NOTIFY_QUEUE_SIZE", 1024),
		},
		Sweep: SweepConfig{
			Interval:  e.duration("SWEEP_INTERVAL", 5*time.Second),
			BatchSize: e.int("SWEEP_BATCH_SIZE", 100),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("JWT_SECRET", ""),
			Issuer:    e.str("JWT_ISSUER", "maksab"),
		},
		Bidding: bidding.Policy{
			IncrementRate:  e.decimal("BID_INCREMENT_RATE", def.IncrementRate),
			IncrementFloor: e.decimal("BID_INCREMENT_FLOOR", def.IncrementFloor),
			SnipeWindow:    e.duration("ANTI_SNIPE_WINDOW", def.SnipeWindow),
			SnipeExtension: e.duration("ANTI_SNIPE_EXTENSION", def.SnipeExtension),
			Scale:          int32(e.int("CURRENCY_SCALE", int(def.Scale))),
			MaxAmount:      e.decimal("BID_MAX_AMOUNT", def.MaxAmount),
		},
		RecentBidsLimit: e.int("RECENT_BIDS_LIMIT", 20),
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	return cfg, nil
}

// Validate checks that the loaded values are usable together.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if err := c.Bidding.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Sweep.Interval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.Sweep.Interval))
	}
	// An auction extended at the last second must not be swept before the
	// extension can take effect.
	if c.Sweep.Interval >= c.Bidding.SnipeExtension {
		errs = append(errs, fmt.Errorf(
			"SWEEP_INTERVAL (%s) must be shorter than ANTI_SNIPE_EXTENSION (%s)",
			c.Sweep.Interval, c.Bidding.SnipeExtension,
		))
	}
	if c.Sweep.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.Sweep.BatchSize))
	}
	if c.Storage.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.Storage.LockTimeout))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.Notify.QueueSize))
	}
	if c.RecentBidsLimit <= 0 {
		errs = append(errs, fmt.Errorf("RECENT_BIDS_LIMIT must be positive, got %d", c.RecentBidsLimit))
	}

	return errors.Join(errs...)
}

// env collects parse errors so Load reports every bad variable at once.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, fallback string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return fallback
}

func (e *env) int(key string, fallback int) int {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (e *env) decimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := e.get(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
