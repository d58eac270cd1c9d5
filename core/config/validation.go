package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate reports the first problem found in c.
func (c *Config) Validate() error {
	if err := c.Oracle.Validate(); err != nil {
		return err
	}
	if c.Reencrypt.Parallelism < 0 {
		return fmt.Errorf("reencrypt.parallelism must not be negative (got %d)", c.Reencrypt.Parallelism)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'console' or 'json', got '%s'", c.Logging.Format)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.Logging.Level))); err != nil {
		return fmt.Errorf("logging.level '%s' is invalid: %w", c.Logging.Level, err)
	}
	return nil
}

// Validate checks the oracle section.
func (o *OracleConfig) Validate() error {
	switch o.Transport {
	case TransportHTTP:
		u, err := url.Parse(o.BaseURL)
		if o.BaseURL == "" || err != nil || u.Host == "" {
			return fmt.Errorf("oracle.base_url must be an absolute URL for the http transport, got '%s'", o.BaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("oracle.base_url has unsupported scheme '%s'", u.Scheme)
		}
	case TransportGRPC:
		if o.GRPCTarget == "" {
			return fmt.Errorf("oracle.grpc_target must be set for the grpc transport")
		}
	case TransportStatic:
	default:
		return fmt.Errorf("oracle.transport must be one of http, grpc, static; got '%s'", o.Transport)
	}

	if o.SOCKS5Proxy != "" {
		if o.Transport != TransportHTTP {
			return fmt.Errorf("oracle.socks5_proxy is only supported by the http transport")
		}
		if _, _, err := net.SplitHostPort(o.SOCKS5Proxy); err != nil {
			return fmt.Errorf("oracle.socks5_proxy must be host:port: %w", err)
		}
	}
	if o.Timeout < 0 {
		return fmt.Errorf("oracle.timeout must not be negative (got %s)", o.Timeout)
	}
	if o.Retry.Attempts < 1 {
		return fmt.Errorf("oracle.retry.attempts must be at least 1 (got %d)", o.Retry.Attempts)
	}
	if o.Retry.Delay < 0 {
		return fmt.Errorf("oracle.retry.delay must not be negative (got %s)", o.Retry.Delay)
	}
	if o.RateLimit.PerSecond < 0 {
		return fmt.Errorf("oracle.rate_limit.per_second must not be negative (got %v)", o.RateLimit.PerSecond)
	}
	if o.RateLimit.PerSecond > 0 && o.RateLimit.Burst < 1 {
		return fmt.Errorf("oracle.rate_limit.burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}
