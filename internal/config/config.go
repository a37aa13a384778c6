package config

import (
	"fmt"
	"time"
)

// Config is the operator-owned gateway configuration, loaded from
// configs/gateway.yaml. Admin-mutable provider/model state lives in the
// JSON files handled by SystemConfig and ModelSettings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Vector    VectorConfig    `yaml:"vector"`
	Usage     UsageConfig     `yaml:"usage"`
	VAPI      VAPIConfig      `yaml:"vapi"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Enabled reports whether a database was configured at all. The gateway
// runs without one; durable sample and usage storage is opt-in.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RoutingConfig bounds the request chain. DefaultTimeout caps the whole
// request including the fallback hop, not each vendor call separately.
type RoutingConfig struct {
	DefaultTimeout     time.Duration        `yaml:"default_timeout"`
	SyncAttemptTimeout time.Duration        `yaml:"sync_attempt_timeout"`
	StreamTimeout      time.Duration        `yaml:"stream_timeout"`
	PollInterval       time.Duration        `yaml:"poll_interval"`
	PollBudget         int                  `yaml:"poll_budget"`
	RateLimitRPM       int                  `yaml:"rate_limit_rpm"`
	CircuitBreaker     CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

// VectorConfig enables the embedding-based similarity cache. When URL is
// empty the cache falls back to lexical Jaccard scoring.
type VectorConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type UsageConfig struct {
	// File is the JSON-lines fallback path used when no database is
	// configured. Empty disables file logging.
	File string `yaml:"file"`
}

type VAPIConfig struct {
	// Token is the static bearer secret VAPI presents on webhook and
	// completion calls. Normally supplied via ${VAPI_API_KEY}.
	Token string `yaml:"token"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			Name:            "jamie",
			User:            "jamie",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Routing: RoutingConfig{
			DefaultTimeout:     120 * time.Second,
			SyncAttemptTimeout: 60 * time.Second,
			StreamTimeout:      60 * time.Second,
			PollInterval:       time.Second,
			PollBudget:         30,
			RateLimitRPM:       60,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Vector: VectorConfig{
			Collection:     "jamie_responses",
			EmbeddingModel: "nomic-embed-text",
		},
		Usage: UsageConfig{
			File: "logs/usage.jsonl",
		},
	}
}
