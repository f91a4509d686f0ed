package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the optional YAML file layered between defaults and
// environment variables.
const EnvConfigFile = "EVALLEDGER_CONFIG"

// Config is the full server configuration.
type Config struct {
	Server     Server         `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	Redis      RedisConfig    `yaml:"redis"`
	Kafka      KafkaConfig    `yaml:"kafka"`
	Auth       AuthConfig     `yaml:"auth"`
	Evaluation Evaluation     `yaml:"evaluation"`
	Log        LogConfig      `yaml:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the store. An empty URL runs the in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
}

// RedisConfig configures the global test-case cache. Empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig configures result-ingestion events. No brokers disables them.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

// AuthConfig configures bearer-token validation.
type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

// Evaluation holds domain limits.
type Evaluation struct {
	MaxBatchSize   int           `yaml:"max_batch_size"`
	GlobalCacheTTL time.Duration `yaml:"global_cache_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const devSigningKey = "dev-secret-key-change-in-production"

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			MetricsAddr:     "",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			PingTimeout:     2 * time.Second,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			TxTimeout:       5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Kafka: KafkaConfig{
			Topic:             "test_results.ingested",
			Partitions:        3,
			ReplicationFactor: 1,
		},
		Auth: AuthConfig{
			JWTSigningKey: devSigningKey,
			Issuer:        "evalledger",
			Audience:      "evalledger-api",
			TokenTTL:      24 * time.Hour,
		},
		Evaluation: Evaluation{
			MaxBatchSize:   1000,
			GlobalCacheTTL: time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load layers defaults, the optional YAML file named by EVALLEDGER_CONFIG
// and environment variables, then validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("EVALLEDGER_ADDR", &c.Server.Addr)
	str("EVALLEDGER_METRICS_ADDR", &c.Server.MetricsAddr)
	dur("EVALLEDGER_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	dur("EVALLEDGER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	str("DATABASE_URL", &c.Database.URL)
	dur("DATABASE_PING_TIMEOUT", &c.Database.PingTimeout)
	num("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	num("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	dur("DATABASE_TX_TIMEOUT", &c.Database.TxTimeout)

	str("REDIS_URL", &c.Redis.URL)
	num("REDIS_POOL_SIZE", &c.Redis.PoolSize)

	if v := strings.TrimSpace(getenv("KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)

	str("JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	str("JWT_ISSUER", &c.Auth.Issuer)
	str("JWT_AUDIENCE", &c.Auth.Audience)
	dur("JWT_TOKEN_TTL", &c.Auth.TokenTTL)

	num("EVALLEDGER_MAX_BATCH_SIZE", &c.Evaluation.MaxBatchSize)
	dur("EVALLEDGER_GLOBAL_CACHE_TTL", &c.Evaluation.GlobalCacheTTL)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	if c.Evaluation.MaxBatchSize < 1 {
		errs = append(errs, errors.New("evaluation.max_batch_size must be >= 1"))
	}
	if c.Evaluation.GlobalCacheTTL < 0 {
		errs = append(errs, errors.New("evaluation.global_cache_ttl must be >= 0"))
	}
	if c.Database.URL != "" {
		if c.Database.MaxOpenConns < 1 {
			errs = append(errs, errors.New("database.max_open_conns must be >= 1"))
		}
		if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
			errs = append(errs, errors.New("database.max_idle_conns must be <= database.max_open_conns"))
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// UsingDevSigningKey reports whether the built-in development key is active.
func (c Config) UsingDevSigningKey() bool {
	return c.Auth.JWTSigningKey == devSigningKey
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
