// Package reencrypt serves threshold reencryption requests: it checks the
// requested threshold against the policy, gates on liveness, samples M of the
// policy's N fragments and applies the re-encryption primitive to each.
package reencrypt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/pkg/logging"
	"github.com/prepolicy/prepolicy/pkg/securerandom"
)

// Options tunes a Reencryptor.
type Options struct {
	// Parallelism caps concurrent primitive calls per request. Zero means one
	// goroutine per sampled fragment.
	Parallelism int
	// Random picks the fragment subset. Defaults to crypto/rand.
	Random securerandom.Source
	Logger logging.Logger
}

// Stats counts request outcomes since construction.
type Stats struct {
	Served      uint64
	Dead        uint64
	Unavailable uint64
	Rejected    uint64
}

// Reencryptor orchestrates threshold reencryption against a policy registry.
type Reencryptor struct {
	registry    policy.Registry
	oracle      liveness.Oracle
	primitive   Primitive
	random      securerandom.Source
	parallelism int
	logger      logging.Logger

	served      atomic.Uint64
	dead        atomic.Uint64
	unavailable atomic.Uint64
	rejected    atomic.Uint64
}

// New creates a Reencryptor. registry, oracle and primitive are required.
func New(registry policy.Registry, oracle liveness.Oracle, primitive Primitive, opts Options) (*Reencryptor, error) {
	if registry == nil {
		return nil, fmt.Errorf("reencryptor requires a policy registry")
	}
	if oracle == nil {
		return nil, fmt.Errorf("reencryptor requires a liveness oracle")
	}
	if primitive == nil {
		return nil, fmt.Errorf("reencryptor requires a re-encryption primitive")
	}
	if opts.Parallelism < 0 {
		return nil, fmt.Errorf("parallelism must not be negative (got %d)", opts.Parallelism)
	}
	if opts.Random == nil {
		opts.Random = securerandom.CryptoSource{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}
	return &Reencryptor{
		registry:    registry,
		oracle:      oracle,
		primitive:   primitive,
		random:      opts.Random,
		parallelism: opts.Parallelism,
		logger:      opts.Logger.With("component", "reencryptor"),
	}, nil
}

// Reencrypt returns m capsule fragments for capsule, each produced from a distinct,
// uniformly sampled key fragment of policy id, in draw order.
//
// Unknown policies, non-positive thresholds and thresholds above the policy's
// fragment count fail before the oracle is consulted. An m of zero or less is an
// error here, not an empty result. A dead policy or a failed
// liveness query yields an empty result and a nil error. If ctx ends while the
// request is in flight, ctx.Err() is returned and no fragments are.
func (r *Reencryptor) Reencrypt(ctx context.Context, id policy.ID, capsule policy.Capsule, m int) ([]policy.CapsuleFragment, error) {
	rec, err := r.registry.Lookup(id)
	if err != nil {
		r.rejected.Add(1)
		return nil, err
	}

	n := len(rec.Fragments)
	if m < 1 {
		r.rejected.Add(1)
		return nil, fmt.Errorf("threshold %d for policy %s: %w", m, id, policy.ErrInvalidInput)
	}
	if m > n {
		r.rejected.Add(1)
		return nil, fmt.Errorf("threshold %d for policy %s holding %d fragments: %w", m, id, n, policy.ErrThresholdTooLarge)
	}

	// rec is a private copy, so no registry lock is held from here on.
	st, err := r.oracle.Check(ctx, id)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("reencrypt policy %s: %w", id, ctx.Err())
	}
	switch st {
	case liveness.StatusAlive:
	case liveness.StatusDead:
		r.dead.Add(1)
		r.logger.Info("policy reported dead, withholding reencryption", "policy_id", id)
		return []policy.CapsuleFragment{}, nil
	default:
		r.unavailable.Add(1)
		r.logger.Warn("liveness oracle unavailable, withholding reencryption",
			"policy_id", id,
			"reason", liveness.ReasonOf(err),
			"error", err)
		return []policy.CapsuleFragment{}, nil
	}

	picks, err := securerandom.Sample(r.random, n, m)
	if err != nil {
		return nil, fmt.Errorf("failed to sample fragments for policy %s: %w", id, err)
	}

	cfrags, err := r.apply(ctx, rec, picks, capsule)
	if err != nil {
		return nil, err
	}

	r.served.Add(1)
	r.logger.Debug("reencryption served", "policy_id", id, "threshold", m, "fragments", n)
	return cfrags, nil
}

// apply runs the primitive over the picked fragments with bounded concurrency.
// Any failure discards every result.
func (r *Reencryptor) apply(ctx context.Context, rec policy.Record, picks []int, capsule policy.Capsule) ([]policy.CapsuleFragment, error) {
	workers := r.parallelism
	if workers == 0 || workers > len(picks) {
		workers = len(picks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]policy.CapsuleFragment, len(picks))
	sem := make(chan struct{}, workers)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for slot, idx := range picks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(slot int, fragment policy.KeyFragment) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			cfrag, err := r.primitive.Reencrypt(fragment, capsule)
			if err != nil {
				fail(fmt.Errorf("reencrypt policy %s with fragment %s: %w", rec.ID, policy.FragmentDigest(fragment), err))
				return
			}
			out[slot] = cfrag
		}(slot, rec.Fragments[idx])
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("reencrypt policy %s: %w", rec.ID, ctx.Err())
	}
	return out, nil
}

// Stats returns a snapshot of the outcome counters.
func (r *Reencryptor) Stats() Stats {
	return Stats{
		Served:      r.served.Load(),
		Dead:        r.dead.Load(),
		Unavailable: r.unavailable.Load(),
		Rejected:    r.rejected.Load(),
	}
}
