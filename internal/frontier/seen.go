package frontier

import (
	"hash/fnv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

const (
	defaultSeenShards = 32
	// bloomCapacity sizes each shard's prefilter before it degrades.
	bloomCapacity = 1 << 16
	bloomFPRate   = 0.01
)

// seenIndex maps canonical keys to the last observed candidate snapshot.
// Each shard carries a bloom filter that answers most misses before the map
// is consulted.
type seenIndex struct {
	shards []*seenShard
}

type seenShard struct {
	mu     sync.RWMutex
	items  map[string]*crawler.Candidate
	filter *bloom.BloomFilter
}

func newSeenIndex(shards int) *seenIndex {
	if shards <= 0 {
		shards = defaultSeenShards
	}
	s := &seenIndex{shards: make([]*seenShard, shards)}
	for i := range s.shards {
		s.shards[i] = &seenShard{
			items:  make(map[string]*crawler.Candidate),
			filter: bloom.NewWithEstimates(bloomCapacity, bloomFPRate),
		}
	}
	return s
}

func (s *seenIndex) shard(key string) *seenShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns a copy of the snapshot stored under key.
func (s *seenIndex) Get(key string) (*crawler.Candidate, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if !sh.filter.TestString(key) {
		return nil, false
	}
	c, ok := sh.items[key]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Put records a copy of c under key.
func (s *seenIndex) Put(key string, c *crawler.Candidate) {
	sh := s.shard(key)
	snapshot := c.Clone()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.items[key] = snapshot
	sh.filter.AddString(key)
}

func (s *seenIndex) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Clear drops every snapshot.
func (s *seenIndex) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.items = make(map[string]*crawler.Candidate)
		sh.filter.ClearAll()
		sh.mu.Unlock()
	}
}
