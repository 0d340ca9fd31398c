// Package uuid provides crawl job ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

var _ crawler.IDGenerator = Generator{}

// Generator creates time-ordered job IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewJobID returns a UUIDv7 so job IDs sort by start time.
func (Generator) NewJobID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

// Resolve returns the configured job ID when raw is set, or a fresh one.
// Reusing an ID lets a restarted crawl keep tagging events the same way.
func (g Generator) Resolve(raw string) (uuid.UUID, error) {
	if raw == "" {
		return g.NewJobID()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse job id %q: %w", raw, err)
	}
	return id, nil
}
