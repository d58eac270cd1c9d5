// Package securerandom provides the random sources used to sample key fragments.
package securerandom

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"sync"
)

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	IntN(n int) (int, error)
}

// Int returns a cryptographically secure random integer in the range [min, max].
func Int(min, max int) (int, error) {
	if max < min {
		return 0, fmt.Errorf("max must not be less than min (got min=%d, max=%d)", min, max)
	}
	if max == min {
		return min, nil
	}

	nBig, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate secure random integer: %w", err)
	}
	return int(nBig.Int64()) + min, nil
}

// CryptoSource draws from crypto/rand. The zero value is ready to use.
type CryptoSource struct{}

// IntN implements Source.
func (CryptoSource) IntN(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid argument to IntN: %d", n)
	}
	return Int(0, n-1)
}

// SeededSource is a deterministic PCG-backed Source. Two sources created with the
// same seed produce the same sequence. Safe for concurrent use.
type SeededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource creates a SeededSource from seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN implements Source.
func (s *SeededSource) IntN(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid argument to IntN: %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n), nil
}

// Sample returns m distinct indices from [0, n) in the order they were drawn.
// Every m-subset is equally likely when src is uniform.
func Sample(src Source, n, m int) ([]int, error) {
	if n < 0 || m < 0 || m > n {
		return nil, fmt.Errorf("cannot sample %d of %d", m, n)
	}

	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}

	// Partial Fisher-Yates: the first m slots end up holding the sample.
	for i := 0; i < m; i++ {
		j, err := src.IntN(n - i)
		if err != nil {
			return nil, err
		}
		j += i
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:m:m], nil
}

// Perm returns a random permutation of integers [0,n).
func Perm(src Source, n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid argument to Perm: %d", n)
	}
	return Sample(src, n, n)
}

// MustPerm is like Perm but panics on error.
func MustPerm(src Source, n int) []int {
	result, err := Perm(src, n)
	if err != nil {
		panic(fmt.Sprintf("securerandom.MustPerm: %v", err))
	}
	return result
}
