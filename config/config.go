// Package config reads the service configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid configuration")
	// ErrNegativeDuration is returned for a duration below zero.
	ErrNegativeDuration = fmt.Errorf("%w: duration must not be negative", ErrInvalid)
	// ErrNonPositive is returned for a count that must be at least one.
	ErrNonPositive = fmt.Errorf("%w: value must be positive", ErrInvalid)
	// ErrEventOutlivesLock is returned when a Redis session lock could expire
	// before the event holding it times out.
	ErrEventOutlivesLock = fmt.Errorf("%w: EVENT_TIMEOUT must be positive and below SESSION_LOCK_TTL", ErrInvalid)
)

// Config is the service configuration.
type Config struct {
	LINE    LINE
	Google  Google
	Storage Storage
	HTTP    HTTP
	Webhook Webhook
	Machine Machine
}

// LINE holds the Messaging API channel credentials.
type LINE struct {
	ChannelSecret string        `env:"LINE_CHANNEL_SECRET,required,notEmpty"`
	AccessToken   string        `env:"LINE_CHANNEL_ACCESS_TOKEN,required,notEmpty"`
	Endpoint      string        `env:"LINE_API_ENDPOINT"                          envDefault:"https://api.line.me"`
	Timeout       time.Duration `env:"LINE_TIMEOUT"                               envDefault:"10s"`
}

// Google configures address geocoding. Without a key addresses are never
// recognised and users are asked to share a location instead.
type Google struct {
	APIKey  string        `env:"GOOGLE_API_KEY"`
	Region  string        `env:"GOOGLE_REGION"         envDefault:"tw"`
	Timeout time.Duration `env:"GOOGLE_GEOCODE_TIMEOUT" envDefault:"3s"`
}

// Storage selects the databases.
type Storage struct {
	DatabasePath string        `env:"DATABASE_PATH" envDefault:"denguebot.db"`
	BusyTimeout  time.Duration `env:"DATABASE_BUSY_TIMEOUT" envDefault:"5s"`

	// RedisURL selects the Redis session backend; empty keeps sessions in memory.
	RedisURL       string        `env:"REDIS_URL"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"denguebot:"`
	SessionTTL     time.Duration `env:"SESSION_TTL"      envDefault:"0s"`
	LockTTL        time.Duration `env:"SESSION_LOCK_TTL" envDefault:"30s"`
}

// HTTP configures the listener.
type HTTP struct {
	Addr            string        `env:"HTTP_ADDR"             envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
}

// Webhook configures callback processing.
type Webhook struct {
	Async        bool          `env:"WEBHOOK_ASYNC"          envDefault:"false"`
	Workers      int           `env:"WEBHOOK_WORKERS"        envDefault:"8"`
	QueueSize    int           `env:"WEBHOOK_QUEUE_SIZE"     envDefault:"256"`
	RateLimit    int           `env:"WEBHOOK_RATE_LIMIT"     envDefault:"600"`
	RateWindow   time.Duration `env:"WEBHOOK_RATE_WINDOW"    envDefault:"1m"`
	MaxBodyBytes int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	EventTimeout time.Duration `env:"EVENT_TIMEOUT"          envDefault:"20s"`
}

// Machine locates the configuration documents and bounds execution.
type Machine struct {
	FSMPath        string        `env:"FSM_CONFIG"`
	ConditionsPath string        `env:"CONDITIONS_CONFIG"`
	RepliesPath    string        `env:"REPLIES_CONFIG"`
	Watch          bool          `env:"WATCH_CONFIG"   envDefault:"true"`
	MaxHops        int           `env:"MAX_HOPS"       envDefault:"10"`
	ActionTimeout  time.Duration `env:"ACTION_TIMEOUT" envDefault:"10s"`
	DotPath        string        `env:"DOT_PATH"`
}

// Load reads .env files, when present, then the environment. Variables
// already set win over .env values.
func Load(dotenv ...string) (Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Parse reads the configuration from environ instead of the process
// environment.
func Parse(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the values parsing cannot.
func (c Config) Validate() error {
	var errs []error

	durations := map[string]time.Duration{
		"LINE_TIMEOUT":           c.LINE.Timeout,
		"GOOGLE_GEOCODE_TIMEOUT": c.Google.Timeout,
		"DATABASE_BUSY_TIMEOUT":  c.Storage.BusyTimeout,
		"SESSION_TTL":            c.Storage.SessionTTL,
		"SESSION_LOCK_TTL":       c.Storage.LockTTL,
		"HTTP_READ_TIMEOUT":      c.HTTP.ReadTimeout,
		"HTTP_WRITE_TIMEOUT":     c.HTTP.WriteTimeout,
		"HTTP_SHUTDOWN_TIMEOUT":  c.HTTP.ShutdownTimeout,
		"WEBHOOK_RATE_WINDOW":    c.Webhook.RateWindow,
		"EVENT_TIMEOUT":          c.Webhook.EventTimeout,
		"ACTION_TIMEOUT":         c.Machine.ActionTimeout,
	}

	for name, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%s", ErrNegativeDuration, name, d))
		}
	}

	counts := map[string]int64{
		"WEBHOOK_WORKERS":        int64(c.Webhook.Workers),
		"WEBHOOK_QUEUE_SIZE":     int64(c.Webhook.QueueSize),
		"WEBHOOK_RATE_LIMIT":     int64(c.Webhook.RateLimit),
		"WEBHOOK_MAX_BODY_BYTES": c.Webhook.MaxBodyBytes,
		"MAX_HOPS":               int64(c.Machine.MaxHops),
	}

	for name, n := range counts {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%d", ErrNonPositive, name, n))
		}
	}

	if c.Storage.RedisURL != "" &&
		(c.Webhook.EventTimeout <= 0 || c.Webhook.EventTimeout >= c.Storage.LockTTL) {
		errs = append(errs, fmt.Errorf("%w: EVENT_TIMEOUT=%s SESSION_LOCK_TTL=%s",
			ErrEventOutlivesLock, c.Webhook.EventTimeout, c.Storage.LockTTL))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("%w: DATABASE_PATH is required", ErrInvalid))
	}

	return errors.Join(errs...)
}
