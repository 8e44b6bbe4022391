// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/registry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables that mirror the flags,
// e.g. --redis-addr is TRIVIA_REDIS_ADDR.
const EnvPrefix = "TRIVIA"

// Server configures cmd/server.
type Server struct {
	Bind        string
	Port        int
	LogLevel    string
	GracePeriod time.Duration

	Origins    []string
	RateLimit  float64
	RateBurst  int
	BufferSize int

	RedisAddr  string
	RedisDB    int
	QueueName  string
	ResultsTTL time.Duration

	DatabaseURL string

	RejoinTTL     time.Duration
	JWTPrivateKey string
	JWTPublicKey  string
}

// RegisterFlags declares the server flags on fs with their defaults.
func (c *Server) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(normalizeName)

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRIVIA_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: TRIVIA_PORT)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "log level: debug, info, warn, error (env: TRIVIA_LOG_LEVEL)")
	fs.DurationVar(&c.GracePeriod, "grace-period", game.DefaultGracePeriod, "how long finished sessions stay in memory (env: TRIVIA_GRACE_PERIOD)")

	fs.StringSliceVar(&c.Origins, "origin", nil, "extra allowed WebSocket origin patterns (env: TRIVIA_ORIGIN)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 10, "inbound messages per second per connection, 0 disables (env: TRIVIA_RATE_LIMIT)")
	fs.IntVar(&c.RateBurst, "rate-burst", 20, "inbound message burst per connection (env: TRIVIA_RATE_BURST)")
	fs.IntVar(&c.BufferSize, "buffer-size", registry.DefaultBufferSize, "outbound queue depth per connection (env: TRIVIA_BUFFER_SIZE)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis address for the action log and results cache, empty disables (env: TRIVIA_REDIS_ADDR)")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number (env: TRIVIA_REDIS_DB)")
	fs.StringVar(&c.QueueName, "queue", cache.DefaultQueueName, "redis list the action log is pushed to (env: TRIVIA_QUEUE)")
	fs.DurationVar(&c.ResultsTTL, "results-ttl", cache.DefaultResultsTTL, "how long cached results live in redis (env: TRIVIA_RESULTS_TTL)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres URL for results persistence, empty disables (env: TRIVIA_DATABASE_URL)")

	fs.DurationVar(&c.RejoinTTL, "rejoin-ttl", 6*time.Hour, "lifetime of player rejoin tokens (env: TRIVIA_REJOIN_TTL)")
	fs.StringVar(&c.JWTPrivateKey, "jwt-private-key", "", "PEM Ed25519 private key for rejoin tokens, empty generates one (env: TRIVIA_JWT_PRIVATE_KEY)")
	fs.StringVar(&c.JWTPublicKey, "jwt-public-key", "", "PEM Ed25519 public key for rejoin tokens (env: TRIVIA_JWT_PUBLIC_KEY)")
}

// Validate checks the values after flags and environment are applied.
func (c *Server) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grace period must be positive: %s", c.GracePeriod))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative: %v", c.RateLimit))
	}
	if c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate burst must be at least 1: %d", c.RateBurst))
	}
	if c.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("buffer size must be at least 1: %d", c.BufferSize))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid redis db: %d", c.RedisDB))
	}
	if c.ResultsTTL <= 0 {
		errs = append(errs, fmt.Errorf("results ttl must be positive: %s", c.ResultsTTL))
	}
	if c.RejoinTTL <= 0 {
		errs = append(errs, fmt.Errorf("rejoin ttl must be positive: %s", c.RejoinTTL))
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		errs = append(errs, errors.New("both --jwt-private-key and --jwt-public-key must be provided together"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Server) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Level returns the parsed log level, falling back to info.
func (c *Server) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Historian configures cmd/historian.
type Historian struct {
	LogLevel string

	RedisAddr string
	RedisDB   int
	QueueName string

	DatabaseURL string

	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration
	SweepInterval time.Duration
}

func (c *Historian) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(normalizeName)

	fs.StringVar(&c.LogLevel, "log-level", "info", "log level: debug, info, warn, error (env: TRIVIA_LOG_LEVEL)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (env: TRIVIA_REDIS_ADDR)")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number (env: TRIVIA_REDIS_DB)")
	fs.StringVar(&c.QueueName, "queue", cache.DefaultQueueName, "redis list to drain (env: TRIVIA_QUEUE)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "postgres URL (env: TRIVIA_DATABASE_URL)")
	fs.IntVar(&c.BatchSize, "batch-size", 20, "actions per insert transaction (env: TRIVIA_BATCH_SIZE)")
	fs.DurationVar(&c.FlushDelay, "flush-delay", 500*time.Millisecond, "max time an action waits before being flushed (env: TRIVIA_FLUSH_DELAY)")
	fs.DurationVar(&c.Inactivity, "inactivity", 10*time.Minute, "silence after which an unfinished session is marked abandoned (env: TRIVIA_INACTIVITY)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", time.Minute, "how often to look for abandoned sessions (env: TRIVIA_SWEEP_INTERVAL)")
}

func (c *Historian) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("--redis-addr is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("--database-url is required"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1: %d", c.BatchSize))
	}
	if c.FlushDelay <= 0 || c.Inactivity <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("durations must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Historian) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// ApplyEnv fills every flag the command line left unset from its TRIVIA_
// environment variable. Call it after the flags are parsed.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s_%s: %w", EnvPrefix, envName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

func normalizeName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
