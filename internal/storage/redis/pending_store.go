// Package redis provides a Redis-backed pending candidate store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

const (
	defaultPrefix   = "frontier:pending"
	defaultPageSize = 256
)

// Config captures the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key the store writes.
	Prefix string
	// PageSize bounds how many entries a cursor loads per round trip.
	PageSize int
}

// PendingStore keeps holder keys in a lexicographically ordered sorted set
// (all scores 0), the entries in a hash, and one set of holder keys per
// canonical key for Lookup.
type PendingStore struct {
	client   goredis.UniversalClient
	prefix   string
	pageSize int64
}

type record struct {
	CanonicalKey string `json:"canonical_key"`
	Value        []byte `json:"value"`
}

// New connects to Redis at cfg.Addr.
func New(cfg Config) (*PendingStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("pending.redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client goredis.UniversalClient, cfg Config) *PendingStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &PendingStore{client: client, prefix: prefix, pageSize: int64(pageSize)}
}

func (s *PendingStore) orderKey() string   { return s.prefix + ":order" }
func (s *PendingStore) entriesKey() string { return s.prefix + ":entries" }
func (s *PendingStore) canonicalKey(key string) string {
	return s.prefix + ":canonical:" + key
}

// Ping verifies connectivity.
func (s *PendingStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Put upserts entry.
func (s *PendingStore) Put(ctx context.Context, entry crawler.PendingEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("pending key is required")
	}
	payload, err := json.Marshal(record{CanonicalKey: entry.CanonicalKey, Value: entry.Value})
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	previous, err := s.load(ctx, entry.Key)
	if err != nil && !errors.Is(err, crawler.ErrPendingNotFound) {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if previous != nil && previous.CanonicalKey != entry.CanonicalKey {
			pipe.SRem(ctx, s.canonicalKey(previous.CanonicalKey), entry.Key)
		}
		pipe.ZAdd(ctx, s.orderKey(), goredis.Z{Score: 0, Member: entry.Key})
		pipe.HSet(ctx, s.entriesKey(), entry.Key, payload)
		pipe.SAdd(ctx, s.canonicalKey(entry.CanonicalKey), entry.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write pending entry: %w", err)
	}
	return nil
}

func (s *PendingStore) load(ctx context.Context, key string) (*record, error) {
	raw, err := s.client.HGet(ctx, s.entriesKey(), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, crawler.ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read pending entry: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode pending entry: %w", err)
	}
	return &rec, nil
}

// Get returns the entry stored under key.
func (s *PendingStore) Get(ctx context.Context, key string) (crawler.PendingEntry, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return crawler.PendingEntry{}, err
	}
	return crawler.PendingEntry{Key: key, CanonicalKey: rec.CanonicalKey, Value: rec.Value}, nil
}

// Delete removes key.
func (s *PendingStore) Delete(ctx context.Context, key string) error {
	rec, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, s.orderKey(), key)
		pipe.HDel(ctx, s.entriesKey(), key)
		pipe.SRem(ctx, s.canonicalKey(rec.CanonicalKey), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete pending entry: %w", err)
	}
	return nil
}

// Lookup implements crawler.PendingLookup using the canonical key sets.
func (s *PendingStore) Lookup(ctx context.Context, canonicalKey, prefix string) (string, bool, error) {
	members, err := s.client.SMembers(ctx, s.canonicalKey(canonicalKey)).Result()
	if err != nil {
		return "", false, fmt.Errorf("lookup pending: %w", err)
	}
	matches := members[:0]
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)
	return matches[0], true, nil
}

// Cursor pages through holder keys starting with prefix in key order.
func (s *PendingStore) Cursor(_ context.Context, prefix string) (crawler.Cursor, error) {
	lo, hi := "-", "+"
	if prefix != "" {
		lo, hi = "["+prefix, "["+prefix+"\xff"
	}
	return &cursor{store: s, min: lo, max: hi, pos: -1}, nil
}

// Reset removes every key written under the store's prefix.
func (s *PendingStore) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 512).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan pending keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset pending keys: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *PendingStore) Close() error {
	return s.client.Close()
}

type cursor struct {
	store    *PendingStore
	min, max string
	offset   int64
	page     []crawler.PendingEntry
	pos      int
	done     bool
	err      error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.pos+1 < len(c.page) {
		c.pos++
		return true
	}
	if c.done {
		return false
	}
	if err := c.fetch(ctx); err != nil {
		c.err = err
		return false
	}
	if len(c.page) == 0 {
		return false
	}
	c.pos = 0
	return true
}

func (c *cursor) fetch(ctx context.Context) error {
	s := c.store
	keys, err := s.client.ZRangeByLex(ctx, s.orderKey(), &goredis.ZRangeBy{
		Min:    c.min,
		Max:    c.max,
		Offset: c.offset,
		Count:  s.pageSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("range pending keys: %w", err)
	}
	c.offset += int64(len(keys))
	if int64(len(keys)) < s.pageSize {
		c.done = true
	}
	c.page = c.page[:0]
	if len(keys) == 0 {
		return nil
	}
	values, err := s.client.HMGet(ctx, s.entriesKey(), keys...).Result()
	if err != nil {
		return fmt.Errorf("read pending page: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between the range and the read.
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("decode pending entry %s: %w", keys[i], err)
		}
		c.page = append(c.page, crawler.PendingEntry{Key: keys[i], CanonicalKey: rec.CanonicalKey, Value: rec.Value})
	}
	if len(c.page) == 0 && !c.done {
		return c.fetch(ctx)
	}
	return nil
}

func (c *cursor) Entry() crawler.PendingEntry {
	if c.pos < 0 || c.pos >= len(c.page) {
		return crawler.PendingEntry{}
	}
	return c.page[c.pos]
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.page = nil
	c.done = true
	return nil
}
