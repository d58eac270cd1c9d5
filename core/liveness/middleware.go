package liveness

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

// Middleware wraps an Oracle with additional behavior.
type Middleware func(Oracle) Oracle

// Chain creates a single Middleware from a series of middlewares.
// The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(base Oracle) Oracle {
		for i := len(middlewares) - 1; i >= 0; i-- {
			base = middlewares[i](base)
		}
		return base
	}
}

// WithTimeout bounds every check with a deadline.
func WithTimeout(timeout time.Duration) Middleware {
	return func(base Oracle) Oracle {
		if timeout <= 0 {
			return base
		}
		return OracleFunc(func(ctx context.Context, id policy.ID) (Status, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return base.Check(ctx, id)
		})
	}
}

// WithRateLimit waits for a limiter token before each check. A wait that cannot
// complete makes the check unavailable without reaching the base oracle.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(base Oracle) Oracle {
		if limiter == nil {
			return base
		}
		return OracleFunc(func(ctx context.Context, id policy.ID) (Status, error) {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return unavailable(contextReason(ctx), err)
				}
				return unavailable(ReasonRateLimited, err)
			}
			return base.Check(ctx, id)
		})
	}
}

// WithRetry repeats unavailable checks up to attempts times in total, sleeping
// delay between them. Alive and dead verdicts are returned immediately.
func WithRetry(attempts int, delay time.Duration) Middleware {
	return func(base Oracle) Oracle {
		if attempts <= 1 {
			return base
		}
		return OracleFunc(func(ctx context.Context, id policy.ID) (Status, error) {
			var (
				st  Status
				err error
			)
			for i := 0; i < attempts; i++ {
				st, err = base.Check(ctx, id)
				if st != StatusUnavailable || i == attempts-1 {
					return st, err
				}
				switch ReasonOf(err) {
				case ReasonCanceled, ReasonTimeout:
					if ctx.Err() != nil {
						return st, err
					}
				}

				select {
				case <-ctx.Done():
					return st, err
				case <-time.After(delay):
				}
			}
			return st, err
		})
	}
}

// WithLogging records every verdict. Unavailability is logged at warn.
func WithLogging(logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return func(base Oracle) Oracle {
		return OracleFunc(func(ctx context.Context, id policy.ID) (Status, error) {
			start := time.Now()
			st, err := base.Check(ctx, id)
			elapsed := time.Since(start)
			if st == StatusUnavailable {
				logger.Warn("liveness query failed",
					"policy_id", id,
					"reason", ReasonOf(err),
					"elapsed", elapsed,
					"error", err)
			} else {
				logger.Debug("liveness verdict", "policy_id", id, "status", st.String(), "elapsed", elapsed)
			}
			return st, err
		})
	}
}
