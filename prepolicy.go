// Package prepolicy grants access policies over re-encryption key fragments,
// serves threshold reencryption requests gated by a liveness oracle, and
// revokes policies.
package prepolicy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/prepolicy/prepolicy/core/config"
	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/core/reencrypt"
	"github.com/prepolicy/prepolicy/pkg/logging"
	"github.com/prepolicy/prepolicy/pkg/securerandom"
)

type (
	PolicyID        = policy.ID
	KeyFragment     = policy.KeyFragment
	Capsule         = policy.Capsule
	CapsuleFragment = policy.CapsuleFragment
	Stats           = reencrypt.Stats
)

var (
	ErrPolicyNotFound    = policy.ErrPolicyNotFound
	ErrThresholdTooLarge = policy.ErrThresholdTooLarge
	ErrInvalidInput      = policy.ErrInvalidInput
)

// Network is the public entry point: grant, reencrypt, revoke.
type Network struct {
	registry    policy.Registry
	reencryptor *reencrypt.Reencryptor
	closers     []io.Closer
	logger      logging.Logger
}

type options struct {
	registry policy.Registry
	oracle   liveness.Oracle
	random   securerandom.Source
	logger   logging.Logger
}

// Option customizes New.
type Option func(*options)

// WithRegistry replaces the in-memory registry.
func WithRegistry(r policy.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithOracle replaces the configured oracle transport. Retry, rate limit and
// timeout settings still apply to it.
func WithOracle(oracle liveness.Oracle) Option {
	return func(o *options) { o.oracle = oracle }
}

// WithRandom replaces the sampling source chosen from configuration.
func WithRandom(src securerandom.Source) Option {
	return func(o *options) { o.random = src }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New wires a Network from cfg. A nil cfg uses config.Default; zero fields of
// cfg take their defaults without modifying the caller's value.
func New(cfg *config.Config, primitive reencrypt.Primitive, opts ...Option) (*Network, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	c.ApplyDefaults()
	cfg = &c
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, nil)
		if err != nil {
			return nil, err
		}
		o.logger = logger
	}
	if o.registry == nil {
		o.registry = policy.NewMemoryRegistry(o.logger)
	}
	if o.random == nil {
		if cfg.Sampling.Seed != 0 {
			o.random = securerandom.NewSeededSource(cfg.Sampling.Seed)
		} else {
			o.random = securerandom.CryptoSource{}
		}
	}

	n := &Network{registry: o.registry, logger: o.logger.With("component", "network")}

	oracle := o.oracle
	if oracle == nil {
		var (
			closer io.Closer
			err    error
		)
		oracle, closer, err = newTransport(cfg.Oracle, o.logger)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			n.closers = append(n.closers, closer)
		}
	}

	r, err := reencrypt.New(o.registry, wrapOracle(cfg.Oracle, oracle, o.logger), primitive, reencrypt.Options{
		Parallelism: cfg.Reencrypt.Parallelism,
		Random:      o.random,
		Logger:      o.logger,
	})
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.reencryptor = r

	n.logger.Info("policy network ready",
		"oracle_transport", cfg.Oracle.Transport,
		"custom_oracle", o.oracle != nil,
		"seeded_sampling", cfg.Sampling.Seed != 0)
	return n, nil
}

func newTransport(cfg config.OracleConfig, logger logging.Logger) (liveness.Oracle, io.Closer, error) {
	switch cfg.Transport {
	case config.TransportHTTP:
		o, err := liveness.NewHTTPOracle(liveness.HTTPOptions{
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			SOCKS5Proxy: cfg.SOCKS5Proxy,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create http liveness oracle: %w", err)
		}
		return o, nil, nil
	case config.TransportGRPC:
		o, err := liveness.DialGRPCOracle(cfg.GRPCTarget, liveness.GRPCOptions{Timeout: cfg.Timeout}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create grpc liveness oracle: %w", err)
		}
		return o, o, nil
	case config.TransportStatic:
		return liveness.StaticOracle{Alive: cfg.StaticAlive}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported oracle transport '%s'", cfg.Transport)
	}
}

// NewOracle builds the configured oracle transport wrapped with logging, retry,
// rate limiting and per-attempt timeout. The returned closer may be nil.
func NewOracle(cfg config.OracleConfig, logger logging.Logger) (liveness.Oracle, io.Closer, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	base, closer, err := newTransport(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return wrapOracle(cfg, base, logger), closer, nil
}

func wrapOracle(cfg config.OracleConfig, base liveness.Oracle, logger logging.Logger) liveness.Oracle {
	var limiter *rate.Limiter
	if cfg.RateLimit.PerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	}
	return liveness.Chain(
		liveness.WithLogging(logger.With("component", "liveness")),
		liveness.WithRetry(cfg.Retry.Attempts, cfg.Retry.Delay),
		liveness.WithRateLimit(limiter),
		liveness.WithTimeout(cfg.Timeout),
	)(base)
}

// Grant registers fragments as a new policy and returns its identifier.
func (n *Network) Grant(fragments []KeyFragment) (PolicyID, error) {
	return n.registry.Grant(fragments)
}

// Reencrypt returns m capsule fragments for capsule under policy id. See
// reencrypt.Reencryptor.Reencrypt for the full contract.
func (n *Network) Reencrypt(ctx context.Context, id PolicyID, capsule Capsule, m int) ([]CapsuleFragment, error) {
	return n.reencryptor.Reencrypt(ctx, id, capsule, m)
}

// Revoke deletes policy id and its fragments.
func (n *Network) Revoke(id PolicyID) error {
	return n.registry.Revoke(id)
}

// Policies reports how many policies are currently granted.
func (n *Network) Policies() int {
	return n.registry.Len()
}

// Stats returns reencryption outcome counters.
func (n *Network) Stats() Stats {
	return n.reencryptor.Stats()
}

// Close releases oracle connections.
func (n *Network) Close() error {
	var errs []error
	for _, c := range n.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
