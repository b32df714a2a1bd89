// Package registry implements the ReplicatedRegistry: a mapping from host
// address to workload metadata, sharded and replicated across every shard
// of a single controller process so that any local read is authoritative.
package registry

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/cuemby/fleetd/internal/ctlerr"
	"github.com/cuemby/fleetd/internal/fleet"
	"github.com/rs/zerolog"
)

// Entry is what the registry stores per address.
type Entry struct {
	WorkloadName       string
	Provider           fleet.Provider
	ProviderInstanceID string
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Registry is a sharded, fully-replicated address -> Entry map. Every shard
// holds a complete copy; put/remove fan out to all shards synchronously so
// a read against any shard (including the local one) is authoritative.
type Registry struct {
	shards []*shard
	logger zerolog.Logger
}

// New constructs a Registry with shardCount shards (shardCount must be >=
// 1; values below 1 are rounded up to 1).
func New(shardCount int, logger zerolog.Logger) *Registry {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return &Registry{shards: shards, logger: logger}
}

func (r *Registry) ownerIndex(address string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return int(h.Sum64() % uint64(len(r.shards)))
}

// Put writes address -> entry to every shard in turn, so every replica
// holds the write when it returns. Returns a transient ctlerr.Error if any replica
// fails to apply the write (in this implementation, none do; the signature
// exists so callers already handle the documented failure mode).
func (r *Registry) Put(address string, entry Entry) error {
	for _, s := range r.shards {
		s.mu.Lock()
		s.entries[address] = entry
		s.mu.Unlock()
	}
	return nil
}

// Get looks up address, returning ctlerr.NotFound if absent.
func (r *Registry) Get(address string) (Entry, error) {
	s := r.shards[r.ownerIndex(address)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[address]
	if !ok {
		return Entry{}, ctlerr.NotFound("registry.get", errNotFound(address))
	}
	return entry, nil
}

// Remove deletes address from every shard. Symmetric to Put.
func (r *Registry) Remove(address string) error {
	for _, s := range r.shards {
		s.mu.Lock()
		delete(s.entries, address)
		s.mu.Unlock()
	}
	return nil
}

// Visitor is called once per registry entry by ForEach.
type Visitor func(address string, entry Entry)

// ForEach emits every entry exactly once, in an unspecified order. It reads
// a consistent point-in-time copy of the owning shard (shard 0, since every
// shard is fully replicated) so that a monitor pass sees a stable snapshot
// even if Put/Remove run concurrently against other shards.
func (r *Registry) ForEach(visit Visitor) {
	s := r.shards[0]
	s.mu.RLock()
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	addresses := make([]string, 0, len(snapshot))
	for addr := range snapshot {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	for _, addr := range addresses {
		visit(addr, snapshot[addr])
	}
}

// Len returns the number of entries currently registered.
func (r *Registry) Len() int {
	s := r.shards[0]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type notFoundError string

func (e notFoundError) Error() string { return "host not registered: " + string(e) }

func errNotFound(address string) error { return notFoundError(address) }
