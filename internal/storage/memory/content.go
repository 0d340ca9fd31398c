package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// ContentStore records fetched pages in memory, keyed by URI.
type ContentStore struct {
	mu   sync.RWMutex
	data map[string]crawler.Content
}

// NewContentStore creates a new in-memory content store.
func NewContentStore() *ContentStore {
	return &ContentStore{data: make(map[string]crawler.Content)}
}

// Store persists a copy of content.
func (s *ContentStore) Store(_ context.Context, content crawler.Content) error {
	if content.URI == "" {
		return errors.New("content uri is required")
	}
	content.Body = append([]byte(nil), content.Body...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[content.URI] = content
	return nil
}

// Content replays the page recorded for uri.
func (s *ContentStore) Content(_ context.Context, uri string) (crawler.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.data[uri]
	if !ok {
		return crawler.Content{}, crawler.ErrContentNotFound
	}
	content.Body = append([]byte(nil), content.Body...)
	return content, nil
}
