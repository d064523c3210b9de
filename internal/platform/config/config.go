package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	pstrings "redeem/pkg/platform/strings"
)

// Store backends for redemption requests.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Overflow policies for slow subscribers.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Config is the full server configuration, read from REDEEM_* variables.
type Config struct {
	Server   Server
	Log      Log
	Store    string `env:"REDEEM_STORE" envDefault:"memory"`
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Bus      BusConfig
	Quorum   QuorumConfig
	Audit    AuditConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"REDEEM_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"REDEEM_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// JWTSigningKey enables approver authentication when set.
	JWTSigningKey string `env:"REDEEM_JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"REDEEM_JWT_ISSUER" envDefault:"redeem"`
	JWTAudience   string `env:"REDEEM_JWT_AUDIENCE" envDefault:"redeem-approvers"`
}

type Log struct {
	Level  string `env:"REDEEM_LOG_LEVEL" envDefault:"info"`
	Format string `env:"REDEEM_LOG_FORMAT" envDefault:"json"`
}

type PostgresConfig struct {
	URL          string        `env:"REDEEM_DATABASE_URL"`
	MaxOpenConns int           `env:"REDEEM_DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"REDEEM_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLife  time.Duration `env:"REDEEM_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type RedisConfig struct {
	URL          string        `env:"REDEEM_REDIS_URL"`
	PoolSize     int           `env:"REDEEM_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDEEM_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDEEM_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDEEM_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDEEM_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig enables the notification relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `env:"REDEEM_KAFKA_BROKERS" envSeparator:","`
	Topic      string   `env:"REDEEM_KAFKA_TOPIC" envDefault:"redemption-events"`
	Partitions int32    `env:"REDEEM_KAFKA_PARTITIONS" envDefault:"3"`
}

type BusConfig struct {
	QueueSize      int    `env:"REDEEM_SUBSCRIBER_QUEUE_SIZE" envDefault:"64"`
	OverflowPolicy string `env:"REDEEM_OVERFLOW_POLICY" envDefault:"drop_oldest"`
	// SinkBuffer bounds committed batches waiting for the Kafka relay.
	SinkBuffer int `env:"REDEEM_SINK_BUFFER" envDefault:"256"`
}

type QuorumConfig struct {
	MaxAttempts    int           `env:"REDEEM_CAS_MAX_ATTEMPTS" envDefault:"8"`
	InitialBackoff time.Duration `env:"REDEEM_CAS_INITIAL_BACKOFF" envDefault:"1ms"`
	MaxBackoff     time.Duration `env:"REDEEM_CAS_MAX_BACKOFF" envDefault:"50ms"`
}

type AuditConfig struct {
	// Buffer > 0 makes audit emission asynchronous.
	Buffer int `env:"REDEEM_AUDIT_BUFFER" envDefault:"0"`
}

// FromEnv parses and validates configuration so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = pstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("REDEEM_DATABASE_URL is required for the postgres store"))
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDEEM_REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.Bus.OverflowPolicy {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		errs = append(errs, fmt.Errorf("unknown overflow policy %q", c.Bus.OverflowPolicy))
	}
	if c.Bus.QueueSize <= 0 {
		errs = append(errs, errors.New("subscriber queue size must be positive"))
	}
	if c.Bus.SinkBuffer <= 0 {
		errs = append(errs, errors.New("sink buffer must be positive"))
	}
	if c.Quorum.MaxAttempts <= 0 {
		errs = append(errs, errors.New("CAS max attempts must be positive"))
	}
	if c.Quorum.InitialBackoff > c.Quorum.MaxBackoff {
		errs = append(errs, errors.New("CAS initial backoff exceeds max backoff"))
	}
	if c.Audit.Buffer < 0 {
		errs = append(errs, errors.New("audit buffer cannot be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether approver tokens are required.
func (c Config) AuthEnabled() bool {
	return c.Server.JWTSigningKey != ""
}

// RelayEnabled reports whether events are relayed to Kafka.
func (c Config) RelayEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
