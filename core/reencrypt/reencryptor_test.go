package reencrypt_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/core/reencrypt"
	"github.com/prepolicy/prepolicy/mocks"
	"github.com/prepolicy/prepolicy/pkg/securerandom"
	"github.com/prepolicy/prepolicy/testutils"
)

// recordingPrimitive derives "<fragment>|<capsule>" and remembers every call.
type recordingPrimitive struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPrimitive) Reencrypt(fragment policy.KeyFragment, capsule policy.Capsule) (policy.CapsuleFragment, error) {
	out := string(fragment) + "|" + string(capsule)
	p.mu.Lock()
	p.calls = append(p.calls, out)
	p.mu.Unlock()
	return policy.CapsuleFragment(out), nil
}

func (p *recordingPrimitive) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func keyFragments(names ...string) []policy.KeyFragment {
	out := make([]policy.KeyFragment, len(names))
	for i, n := range names {
		out[i] = policy.KeyFragment(n)
	}
	return out
}

func newReencryptor(t *testing.T, reg policy.Registry, oracle liveness.Oracle, prim reencrypt.Primitive, opts reencrypt.Options) *reencrypt.Reencryptor {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutils.NewTestLogger()
	}
	r, err := reencrypt.New(reg, oracle, prim, opts)
	require.NoError(t, err)
	return r
}

func TestReencrypt_AliveReturnsDistinctFragments(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
	require.NoError(t, err)

	prim := &recordingPrimitive{}
	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, prim, reencrypt.Options{})

	for i := 0; i < 50; i++ {
		cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
		require.NoError(t, err)
		require.Len(t, cfrags, 2)

		seen := make(map[string]bool)
		for _, cf := range cfrags {
			s := string(cf)
			assert.Contains(t, []string{"F1|C1", "F2|C1", "F3|C1"}, s)
			assert.False(t, seen[s], "fragment %s drawn twice", s)
			seen[s] = true
		}
	}
	assert.Equal(t, 100, prim.Calls())
	assert.Equal(t, uint64(50), r.Stats().Served)
}

func TestReencrypt_ThresholdEqualsCount(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
	require.NoError(t, err)

	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, &recordingPrimitive{}, reencrypt.Options{})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 3)
	require.NoError(t, err)

	got := make([]string, len(cfrags))
	for i, cf := range cfrags {
		got[i] = string(cf)
	}
	assert.ElementsMatch(t, []string{"F1|C1", "F2|C1", "F3|C1"}, got)
}

func TestReencrypt_ThresholdTooLargeDoesNoWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockOracle(ctrl)
	prim := mocks.NewMockPrimitive(ctrl)
	// No expectations: any oracle or primitive call fails the test.

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1"))
	require.NoError(t, err)

	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
	assert.ErrorIs(t, err, policy.ErrThresholdTooLarge)
	assert.Nil(t, cfrags)
	assert.Equal(t, uint64(1), r.Stats().Rejected)
}

func TestReencrypt_NonPositiveThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockOracle(ctrl)
	prim := mocks.NewMockPrimitive(ctrl)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)

	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	for _, m := range []int{0, -1} {
		_, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), m)
		assert.ErrorIs(t, err, policy.ErrInvalidInput, "m=%d", m)
	}
}

func TestReencrypt_RevokedPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	oracle := mocks.NewMockOracle(ctrl)
	prim := mocks.NewMockPrimitive(ctrl)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)
	require.NoError(t, reg.Revoke(id))

	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	_, err = r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 1)
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)

	assert.ErrorIs(t, reg.Revoke(id), policy.ErrPolicyNotFound)
}

func TestReencrypt_LookupFailurePropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockRegistry(ctrl)
	oracle := mocks.NewMockOracle(ctrl)
	prim := mocks.NewMockPrimitive(ctrl)

	reg.EXPECT().Lookup(policy.ID("missing")).Return(policy.Record{}, policy.ErrPolicyNotFound)

	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	_, err := r.Reencrypt(context.Background(), "missing", policy.Capsule("C1"), 1)
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestReencrypt_NotAliveReturnsEmpty(t *testing.T) {
	tests := []struct {
		name        string
		status      liveness.Status
		err         error
		wantDead    uint64
		wantUnavail uint64
	}{
		{"Dead", liveness.StatusDead, nil, 1, 0},
		{"Unavailable", liveness.StatusUnavailable, &liveness.UnavailableError{Reason: liveness.ReasonTransport, Err: errors.New("connection refused")}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			oracle := mocks.NewMockOracle(ctrl)
			prim := mocks.NewMockPrimitive(ctrl)

			reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
			id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
			require.NoError(t, err)

			oracle.EXPECT().Check(gomock.Any(), id).Return(tt.status, tt.err).Times(1)

			r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
			cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
			require.NoError(t, err)
			assert.NotNil(t, cfrags)
			assert.Empty(t, cfrags)

			stats := r.Stats()
			assert.Equal(t, tt.wantDead, stats.Dead)
			assert.Equal(t, tt.wantUnavail, stats.Unavailable)
			assert.Equal(t, uint64(0), stats.Served)
		})
	}
}

func TestReencrypt_DeadAndUnavailableAreLoggedDifferently(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().With("component", "reencryptor").Return(logger)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)

	var verdict atomic.Int32
	oracle := liveness.OracleFunc(func(context.Context, policy.ID) (liveness.Status, error) {
		if verdict.Load() == 0 {
			return liveness.StatusDead, nil
		}
		return liveness.StatusUnavailable, &liveness.UnavailableError{Reason: liveness.ReasonTimeout}
	})

	gomock.InOrder(
		logger.EXPECT().Info("policy reported dead, withholding reencryption", gomock.Any()),
		logger.EXPECT().Warn("liveness oracle unavailable, withholding reencryption", gomock.Any()),
	)

	r, err := reencrypt.New(reg, oracle, &recordingPrimitive{}, reencrypt.Options{Logger: logger})
	require.NoError(t, err)

	_, err = r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 1)
	require.NoError(t, err)
	verdict.Store(1)
	_, err = r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 1)
	require.NoError(t, err)
}

func TestReencrypt_HTTPOracleFailuresAreAbsorbed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"ServerError", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"Malformed", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("definitely not json"))
		}},
		{"Dead", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result": false}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			oracle, err := liveness.NewHTTPOracle(liveness.HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, testutils.NewTestLogger())
			require.NoError(t, err)

			reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
			id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
			require.NoError(t, err)

			prim := &recordingPrimitive{}
			r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
			cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
			require.NoError(t, err)
			assert.Empty(t, cfrags)
			assert.Zero(t, prim.Calls())
		})
	}
}

func TestReencrypt_ConnectionRefusedIsAbsorbed(t *testing.T) {
	oracle, err := liveness.NewHTTPOracle(liveness.HTTPOptions{
		BaseURL: "http://" + testutils.ClosedAddr(t),
		Timeout: time.Second,
	}, testutils.NewTestLogger())
	require.NoError(t, err)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)

	prim := &recordingPrimitive{}
	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 1)
	require.NoError(t, err)
	assert.Empty(t, cfrags)
	assert.Zero(t, prim.Calls())
	assert.Equal(t, uint64(1), r.Stats().Unavailable)
}

func TestReencrypt_SeededSourceIsReproducible(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	names := []string{"F1", "F2", "F3", "F4", "F5", "F6"}
	id, err := reg.Grant(keyFragments(names...))
	require.NoError(t, err)

	expectedIdx, err := securerandom.Sample(securerandom.NewSeededSource(1234), len(names), 3)
	require.NoError(t, err)
	want := make([]string, len(expectedIdx))
	for i, idx := range expectedIdx {
		want[i] = names[idx] + "|C1"
	}

	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, &recordingPrimitive{}, reencrypt.Options{
		Random: securerandom.NewSeededSource(1234),
	})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 3)
	require.NoError(t, err)

	got := make([]string, len(cfrags))
	for i, cf := range cfrags {
		got[i] = string(cf)
	}
	assert.Equal(t, want, got, "results must follow draw order")
}

func TestReencrypt_CancelWhileOracleInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	prim := mocks.NewMockPrimitive(ctrl)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)

	inFlight := make(chan struct{})
	oracle := liveness.OracleFunc(func(ctx context.Context, _ policy.ID) (liveness.Status, error) {
		close(inFlight)
		<-ctx.Done()
		// A late "alive" must still be discarded.
		return liveness.StatusAlive, nil
	})

	r := newReencryptor(t, reg, oracle, prim, reencrypt.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-inFlight
		cancel()
	}()

	cfrags, err := r.Reencrypt(ctx, id, policy.Capsule("C1"), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, cfrags)
}

func TestReencrypt_OracleRunsOutsideRegistryLock(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2"))
	require.NoError(t, err)

	// Revoking from inside the oracle would deadlock if a registry lock were held.
	oracle := liveness.OracleFunc(func(context.Context, policy.ID) (liveness.Status, error) {
		require.NoError(t, reg.Revoke(id))
		return liveness.StatusAlive, nil
	})

	r := newReencryptor(t, reg, oracle, &recordingPrimitive{}, reencrypt.Options{})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
	require.NoError(t, err)
	assert.Len(t, cfrags, 2)

	_, err = r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 2)
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestReencrypt_PrimitiveFailureReturnsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	prim := mocks.NewMockPrimitive(ctrl)
	prim.EXPECT().Reencrypt(gomock.Any(), policy.Capsule("C1")).
		Return(nil, errors.New("invalid capsule")).MinTimes(1).MaxTimes(3)

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
	require.NoError(t, err)

	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, prim, reencrypt.Options{})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid capsule")
	assert.Nil(t, cfrags)
	assert.Equal(t, uint64(0), r.Stats().Served)
}

func TestReencrypt_ParallelismBound(t *testing.T) {
	var active, peak atomic.Int32
	prim := reencrypt.PrimitiveFunc(func(f policy.KeyFragment, c policy.Capsule) (policy.CapsuleFragment, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return policy.CapsuleFragment(strings.ToLower(string(f))), nil
	})

	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	id, err := reg.Grant(keyFragments("A", "B", "C", "D", "E", "F"))
	require.NoError(t, err)

	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, prim, reencrypt.Options{Parallelism: 2})
	cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C1"), 6)
	require.NoError(t, err)
	assert.Len(t, cfrags, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestReencrypt_ConcurrentCallers(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	r := newReencryptor(t, reg, liveness.StaticOracle{Alive: true}, &recordingPrimitive{}, reencrypt.Options{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := reg.Grant(keyFragments("F1", "F2", "F3"))
				if !assert.NoError(t, err) {
					return
				}
				cfrags, err := r.Reencrypt(context.Background(), id, policy.Capsule("C"), 2)
				assert.NoError(t, err)
				assert.Len(t, cfrags, 2)
				assert.NoError(t, reg.Revoke(id))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(400), r.Stats().Served)
	assert.Equal(t, 0, reg.Len())
}

func TestNew_Validation(t *testing.T) {
	reg := policy.NewMemoryRegistry(testutils.NewTestLogger())
	oracle := liveness.StaticOracle{Alive: true}
	prim := &recordingPrimitive{}

	_, err := reencrypt.New(nil, oracle, prim, reencrypt.Options{})
	assert.Error(t, err)
	_, err = reencrypt.New(reg, nil, prim, reencrypt.Options{})
	assert.Error(t, err)
	_, err = reencrypt.New(reg, oracle, nil, reencrypt.Options{})
	assert.Error(t, err)
	_, err = reencrypt.New(reg, oracle, prim, reencrypt.Options{Parallelism: -1})
	assert.Error(t, err)
}
