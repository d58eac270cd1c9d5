//go:generate mockgen -package=mocks -destination=../../mocks/mock_registry.go github.com/prepolicy/prepolicy/core/policy Registry

package policy

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepolicy/prepolicy/pkg/logging"
)

// Registry owns every granted policy.
type Registry interface {
	// Grant stores fragments under a fresh identifier.
	Grant(fragments []KeyFragment) (ID, error)
	// Lookup returns a copy of the record for id.
	Lookup(id ID) (Record, error)
	// Revoke forgets the record for id.
	Revoke(id ID) error
	// Len reports the number of live policies.
	Len() int
}

const defaultShardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[ID]Record
}

// MemoryRegistry is an in-memory Registry. Identifiers hash onto independently
// locked shards so operations on unrelated policies rarely contend.
type MemoryRegistry struct {
	shards []*shard
	logger logging.Logger
	now    func() time.Time
	newID  func() (uuid.UUID, error)
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry(logger logging.Logger) *MemoryRegistry {
	if logger == nil {
		logger = logging.GetLogger()
	}
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{records: make(map[ID]Record)}
	}
	return &MemoryRegistry{
		shards: shards,
		logger: logger.With("component", "registry"),
		now:    time.Now,
		newID:  uuid.NewRandom,
	}
}

func (r *MemoryRegistry) shardFor(id ID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Grant implements Registry.
func (r *MemoryRegistry) Grant(fragments []KeyFragment) (ID, error) {
	if len(fragments) == 0 {
		return "", fmt.Errorf("grant requires at least one key fragment: %w", ErrInvalidInput)
	}

	u, err := r.newID()
	if err != nil {
		return "", fmt.Errorf("failed to generate policy id: %w", err)
	}
	id := ID(u.String())
	rec := Record{ID: id, Fragments: cloneFragments(fragments), GrantedAt: r.now()}

	s := r.shardFor(id)
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()

	r.logger.Info("policy granted", "policy_id", id, "fragments", len(fragments))
	return id, nil
}

// Lookup implements Registry.
func (r *MemoryRegistry) Lookup(id ID) (Record, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	rec, ok := s.records[id]
	if ok {
		rec = rec.clone()
	}
	s.mu.RUnlock()

	if !ok {
		return Record{}, fmt.Errorf("lookup %s: %w", id, ErrPolicyNotFound)
	}
	return rec, nil
}

// Revoke implements Registry.
func (r *MemoryRegistry) Revoke(id ID) error {
	s := r.shardFor(id)
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("revoke %s: %w", id, ErrPolicyNotFound)
	}
	r.logger.Info("policy revoked", "policy_id", id)
	return nil
}

// Len implements Registry.
func (r *MemoryRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.records)
		s.mu.RUnlock()
	}
	return n
}
