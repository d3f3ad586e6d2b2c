package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/metergate/ports"
)

// counterEntry is a single expiring counter value.
type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// setEntry is a single expiring member set.
type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu       sync.Mutex
	counters map[string]counterEntry
	sets     map[string]setEntry
}

// CounterStore is a sharded in-memory implementation of
// ports.CounterStore. Sharding reduces lock contention on the
// ingestion hot path; every operation holds exactly one shard lock, so
// increments and conditional sets are atomic with respect to each
// other for the same key.
type CounterStore struct {
	shards    []*counterShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// CounterStoreConfig configures the counter store.
type CounterStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to sweep expired keys (default: 5m)
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &CounterStore{
		shards:    make([]*counterShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{
			counters: make(map[string]counterEntry),
			sets:     make(map[string]setEntry),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *CounterStore) getShard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Increment atomically adds amount to the counter at key, creating it
// at zero if absent or expired, and refreshes the key's expiry.
func (s *CounterStore) Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.counters[key]
	if !ok || !e.expiresAt.After(now) {
		e = counterEntry{}
	}
	e.value += amount
	e.expiresAt = now.Add(ttl)
	shard.counters[key] = e
	return e.value, nil
}

// Get returns the counter value, or 0 if the key is absent or expired.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.counters[key]
	if !ok || !e.expiresAt.After(now) {
		return 0, nil
	}
	return e.value, nil
}

// SetIfLess sets key to candidate when the key is unset, expired, or
// candidate is less than the current value.
func (s *CounterStore) SetIfLess(ctx context.Context, key string, candidate int64, ttl time.Duration) error {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.counters[key]
	if ok && e.expiresAt.After(now) && e.value <= candidate {
		return nil
	}
	shard.counters[key] = counterEntry{value: candidate, expiresAt: now.Add(ttl)}
	return nil
}

// SetIfGreater sets key to candidate when the key is unset, expired,
// or candidate is greater than the current value.
func (s *CounterStore) SetIfGreater(ctx context.Context, key string, candidate int64, ttl time.Duration) error {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.counters[key]
	if ok && e.expiresAt.After(now) && e.value >= candidate {
		return nil
	}
	shard.counters[key] = counterEntry{value: candidate, expiresAt: now.Add(ttl)}
	return nil
}

// Reset removes the key.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.counters, key)
	return nil
}

// AddToSet adds member to the set at key. Idempotent.
func (s *CounterStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.sets[key]
	if !ok || !e.expiresAt.After(now) {
		e = setEntry{members: make(map[string]struct{})}
	}
	e.members[member] = struct{}{}
	e.expiresAt = now.Add(ttl)
	shard.sets[key] = e
	return nil
}

// GetSet returns a snapshot of the set's members.
func (s *CounterStore) GetSet(ctx context.Context, key string) ([]string, error) {
	now := time.Now()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.sets[key]
	if !ok || !e.expiresAt.After(now) {
		return nil, nil
	}
	members := make([]string, 0, len(e.members))
	for m := range e.members {
		members = append(members, m)
	}
	return members, nil
}

// RemoveFromSet removes member from the set at key.
func (s *CounterStore) RemoveFromSet(ctx context.Context, key, member string) error {
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.sets[key]
	if !ok {
		return nil
	}
	delete(e.members, member)
	if len(e.members) == 0 {
		delete(shard.sets, key)
	}
	return nil
}

// cleanupLoop periodically sweeps expired keys.
func (s *CounterStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup()
		case <-s.done:
			return
		}
	}
}

// doCleanup removes expired counters and sets.
func (s *CounterStore) doCleanup() {
	now := time.Now()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for k, e := range shard.counters {
			if !e.expiresAt.After(now) {
				delete(shard.counters, k)
			}
		}
		for k, e := range shard.sets {
			if !e.expiresAt.After(now) {
				delete(shard.sets, k)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *CounterStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of live counters across shards (for testing).
func (s *CounterStore) Len() int {
	now := time.Now()
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for _, e := range shard.counters {
			if e.expiresAt.After(now) {
				total++
			}
		}
		shard.mu.Unlock()
	}
	return total
}

// Clear removes all state (for testing).
func (s *CounterStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.counters = make(map[string]counterEntry)
		shard.sets = make(map[string]setEntry)
		shard.mu.Unlock()
	}
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
