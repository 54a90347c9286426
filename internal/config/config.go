package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Environment string

const (
	EnvLocal      Environment = "local"
	EnvProduction Environment = "production"
)

type StoreDriver string

const (
	DriverPostgres StoreDriver = "postgres"
	DriverMemory   StoreDriver = "memory"
)

// MLOverridePolicy decides whether a sensor detection may change the occupancy of a slot that has an active booking.
type MLOverridePolicy string

const (
	PolicyLastWriterWins MLOverridePolicy = "last_writer_wins"
	PolicyRespectBooking MLOverridePolicy = "respect_booking"
)

type Config struct {
	App struct {
		Env      Environment `env:"APP_ENV" envDefault:"local"`
		Timezone string      `env:"APP_TIMEZONE" envDefault:"UTC"`
	}

	HTTP struct {
		Port            string        `env:"SERVER_PORT" envDefault:"8000"`
		ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	Store struct {
		Driver      StoreDriver `env:"STORE_DRIVER" envDefault:"postgres"`
		DBHost      string      `env:"DB_HOST" envDefault:"localhost"`
		DBPort      int         `env:"DB_PORT" envDefault:"5432"`
		DBUser      string      `env:"DB_USER" envDefault:"parkus"`
		DBPassword  string      `env:"DB_PASSWORD" envDefault:"parkus"`
		DBName      string      `env:"DB_NAME" envDefault:"parking_db"`
		DBSslMode   string      `env:"DB_SSLMODE" envDefault:"disable"`
		AutoMigrate bool        `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	}

	Feed struct {
		SubscriberBuffer int           `env:"FEED_SUBSCRIBER_BUFFER" envDefault:"64"`
		MinReconnect     time.Duration `env:"FEED_MIN_RECONNECT" envDefault:"1s"`
		MaxReconnect     time.Duration `env:"FEED_MAX_RECONNECT" envDefault:"30s"`
	}

	ML struct {
		OverridePolicy MLOverridePolicy `env:"ML_OVERRIDE_POLICY" envDefault:"last_writer_wins"`
		AWSRegion      string           `env:"AWS_REGION" envDefault:"ap-southeast-1"`
		SQSQueueURL    string           `env:"ML_SQS_QUEUE_URL"`
	}

	Expiry struct {
		Enabled  bool          `env:"BOOKING_EXPIRY_ENABLED" envDefault:"false"`
		Grace    time.Duration `env:"BOOKING_EXPIRY_GRACE" envDefault:"15m"`
		Interval time.Duration `env:"BOOKING_EXPIRY_INTERVAL" envDefault:"1m"`
	}

	Watch struct {
		URL           string        `env:"WATCH_URL" envDefault:"ws://localhost:8000/ws"`
		Format        string        `env:"WATCH_FORMAT" envDefault:"text"`
		RetryDelay    time.Duration `env:"WATCH_RETRY_DELAY" envDefault:"1s"`
		MaxRetryDelay time.Duration `env:"WATCH_MAX_RETRY_DELAY" envDefault:"30s"`
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds the config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.App.Env = Environment(strings.ToLower(string(cfg.App.Env)))
	cfg.Store.Driver = StoreDriver(strings.ToLower(string(cfg.Store.Driver)))
	cfg.ML.OverridePolicy = MLOverridePolicy(strings.ToLower(string(cfg.ML.OverridePolicy)))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q: must be %q or %q", c.Store.Driver, DriverPostgres, DriverMemory)
	}
	switch c.ML.OverridePolicy {
	case PolicyLastWriterWins, PolicyRespectBooking:
	default:
		return fmt.Errorf("ML_OVERRIDE_POLICY %q: must be %q or %q", c.ML.OverridePolicy, PolicyLastWriterWins, PolicyRespectBooking)
	}
	if c.Feed.SubscriberBuffer <= 0 {
		return fmt.Errorf("FEED_SUBSCRIBER_BUFFER must be positive, got %d", c.Feed.SubscriberBuffer)
	}
	if c.Watch.RetryDelay <= 0 || c.Watch.MaxRetryDelay < c.Watch.RetryDelay {
		return fmt.Errorf("WATCH_RETRY_DELAY (%s) must be positive and not above WATCH_MAX_RETRY_DELAY (%s)", c.Watch.RetryDelay, c.Watch.MaxRetryDelay)
	}
	return nil
}

// DSN is the keyword/value connection string understood by both pgx and lib/pq.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Store.DBHost, c.Store.DBPort, c.Store.DBUser, c.Store.DBPassword, c.Store.DBName, c.Store.DBSslMode)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Location resolves APP_TIMEZONE, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
