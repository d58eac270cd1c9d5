package config

import "time"

// Config is the top-level configuration for a policy network.
type Config struct {
	Oracle    OracleConfig    `yaml:"oracle"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Reencrypt ReencryptConfig `yaml:"reencrypt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OracleConfig selects and tunes the liveness oracle.
type OracleConfig struct {
	Transport   string          `yaml:"transport"` // "http", "grpc" or "static"
	BaseURL     string          `yaml:"base_url"`
	GRPCTarget  string          `yaml:"grpc_target"`
	Timeout     time.Duration   `yaml:"timeout"`
	SOCKS5Proxy string          `yaml:"socks5_proxy,omitempty"`
	StaticAlive bool            `yaml:"static_alive"`
	Retry       RetryConfig     `yaml:"retry"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RetryConfig controls retries of failed liveness queries.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// RateLimitConfig caps outbound liveness queries. PerSecond of 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// SamplingConfig controls fragment sampling. A zero seed uses crypto/rand.
type SamplingConfig struct {
	Seed uint64 `yaml:"seed"`
}

// ReencryptConfig tunes request execution.
type ReencryptConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

const (
	TransportHTTP   = "http"
	TransportGRPC   = "grpc"
	TransportStatic = "static"
)

const (
	defaultOracleTimeout = 5 * time.Second
	defaultRetryDelay    = 200 * time.Millisecond
)
