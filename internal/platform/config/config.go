package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Config is the full service configuration. Defaults come from struct tags;
// environment variables override them.
type Config struct {
	Server   Server
	Index    Index
	Store    Store
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	Log      Log
	Breaker  Breaker
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `default:":8080" validate:"required"`
	ShutdownTimeout time.Duration `default:"15s" validate:"gt=0"`
}

// Index configures the aggregation engine.
type Index struct {
	Deployment    string        `default:"production" validate:"oneof=production test"`
	WhitelistFile string        // overrides the built-in deployment whitelist when set
	Reducer       string        `default:"mean" validate:"oneof=mean minmax"`
	ProbeTimeout  time.Duration `default:"10s" validate:"gt=0"`
	MaxInFlight   int           `default:"16" validate:"min=1"`
	RPCURL        string        `default:"https://rpc.mainnet.near.org" validate:"required,url"`
	RPCRetries    int           `default:"1" validate:"min=0,max=5"`
	RPCBackoff    time.Duration `default:"200ms" validate:"min=0"`
}

type Store struct {
	Backend string `default:"memory" validate:"oneof=memory redis postgres"`
}

type RedisConfig struct {
	URL          string
	Namespace    string        `default:"trustindex:"`
	PoolSize     int           `default:"10" validate:"min=1"`
	MinIdleConns int           `default:"2" validate:"min=0"`
	DialTimeout  time.Duration `default:"5s"`
	ReadTimeout  time.Duration `default:"3s"`
	WriteTimeout time.Duration `default:"3s"`
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int           `default:"10" validate:"min=1"`
	MaxIdleConns    int           `default:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `default:"30m"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string
	Topic             string `default:"trustindex.index-calculated" validate:"required"`
	Partitions        int32  `default:"1" validate:"min=1"`
	ReplicationFactor int16  `default:"1" validate:"min=1"`
}

type Log struct {
	Level  string `default:"info" validate:"oneof=debug info warn error"`
	Format string `default:"json" validate:"oneof=json text"`
}

// Breaker configures the per-provider circuit breakers.
type Breaker struct {
	FailureThreshold int           `default:"5" validate:"min=1"`
	SuccessThreshold int           `default:"2" validate:"min=1"`
	Cooldown         time.Duration `default:"30s" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FromEnv builds the configuration from process environment variables.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load builds the configuration from getenv. Unset variables keep their defaults.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	e := env{getenv: getenv}
	e.str("TRUST_INDEX_ADDR", &cfg.Server.Addr)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("DEPLOYMENT", &cfg.Index.Deployment)
	e.str("WHITELIST_FILE", &cfg.Index.WhitelistFile)
	e.str("INDEX_REDUCER", &cfg.Index.Reducer)
	e.duration("PROBE_TIMEOUT", &cfg.Index.ProbeTimeout)
	e.int("PROBE_MAX_IN_FLIGHT", &cfg.Index.MaxInFlight)
	e.str("NEAR_RPC_URL", &cfg.Index.RPCURL)
	e.int("NEAR_RPC_RETRIES", &cfg.Index.RPCRetries)
	e.duration("NEAR_RPC_BACKOFF", &cfg.Index.RPCBackoff)

	e.str("STORE_BACKEND", &cfg.Store.Backend)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.str("REDIS_NAMESPACE", &cfg.Redis.Namespace)
	e.int("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	e.int("REDIS_MIN_IDLE_CONNS", &cfg.Redis.MinIdleConns)
	e.duration("REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout)
	e.duration("REDIS_READ_TIMEOUT", &cfg.Redis.ReadTimeout)
	e.duration("REDIS_WRITE_TIMEOUT", &cfg.Redis.WriteTimeout)

	e.str("DATABASE_URL", &cfg.Postgres.URL)
	e.int("DATABASE_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)
	e.int("DATABASE_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns)

	e.list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.str("KAFKA_TOPIC", &cfg.Kafka.Topic)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	e.int("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	e.int("BREAKER_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)
	e.duration("BREAKER_COOLDOWN", &cfg.Breaker.Cooldown)

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Backend {
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("invalid config: REDIS_URL is required for the redis store backend")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			return errors.New("invalid config: DATABASE_URL is required for the postgres store backend")
		}
	}
	return nil
}

// KafkaEnabled reports whether events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *env) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *env) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *env) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
