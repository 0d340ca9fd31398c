// Package memory keeps pending candidates and fetched content in process
// memory for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// PendingStore is an ordered in-memory crawler.PendingStore. Locating a
// candidate requires a cursor scan, as with an embedded key-value store.
type PendingStore struct {
	mu      sync.RWMutex
	keys    []string
	entries map[string]crawler.PendingEntry
	closed  bool
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{entries: make(map[string]crawler.PendingEntry)}
}

var errClosed = errors.New("pending store closed")

// Put inserts or overwrites entry.
func (s *PendingStore) Put(_ context.Context, entry crawler.PendingEntry) error {
	if entry.Key == "" {
		return errors.New("pending key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, exists := s.entries[entry.Key]; !exists {
		i := sort.SearchStrings(s.keys, entry.Key)
		s.keys = append(s.keys, "")
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = entry.Key
	}
	entry.Value = append([]byte(nil), entry.Value...)
	s.entries[entry.Key] = entry
	return nil
}

// Get returns the entry stored under key.
func (s *PendingStore) Get(_ context.Context, key string) (crawler.PendingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return crawler.PendingEntry{}, errClosed
	}
	entry, ok := s.entries[key]
	if !ok {
		return crawler.PendingEntry{}, crawler.ErrPendingNotFound
	}
	entry.Value = append([]byte(nil), entry.Value...)
	return entry, nil
}

// Delete removes key.
func (s *PendingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.entries[key]; !ok {
		return crawler.ErrPendingNotFound
	}
	delete(s.entries, key)
	i := sort.SearchStrings(s.keys, key)
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
	return nil
}

// Cursor iterates a snapshot of the entries whose key starts with prefix.
func (s *PendingStore) Cursor(_ context.Context, prefix string) (crawler.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	start := sort.SearchStrings(s.keys, prefix)
	var snapshot []crawler.PendingEntry
	for _, key := range s.keys[start:] {
		if !strings.HasPrefix(key, prefix) {
			break
		}
		snapshot = append(snapshot, s.entries[key])
	}
	return &cursor{entries: snapshot, pos: -1}, nil
}

// Len returns the number of stored entries.
func (s *PendingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close makes later calls fail.
func (s *PendingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type cursor struct {
	entries []crawler.PendingEntry
	pos     int
	err     error
}

func (c *cursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.entries) {
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Entry() crawler.PendingEntry {
	if c.pos < 0 || c.pos >= len(c.entries) {
		return crawler.PendingEntry{}
	}
	return c.entries[c.pos]
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.entries = nil
	return nil
}
