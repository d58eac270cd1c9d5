package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFileConfig loads, defaults and validates configuration from a YAML file.
func LoadFileConfig(filePath string) (*Config, error) {
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}
	return Parse(buf)
}

// Parse decodes YAML, fills defaults and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and a static
// always-alive oracle, suitable for local runs without a platform.
func Default() *Config {
	cfg := &Config{Oracle: OracleConfig{Transport: TransportStatic, StaticAlive: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Oracle.Transport == "" {
		c.Oracle.Transport = TransportHTTP
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = defaultOracleTimeout
	}
	if c.Oracle.Retry.Attempts == 0 {
		c.Oracle.Retry.Attempts = 1
	}
	if c.Oracle.Retry.Delay == 0 {
		c.Oracle.Retry.Delay = defaultRetryDelay
	}
	if c.Oracle.RateLimit.PerSecond > 0 && c.Oracle.RateLimit.Burst == 0 {
		c.Oracle.RateLimit.Burst = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
