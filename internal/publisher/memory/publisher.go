// Package memory contains an in-memory publisher used when no message bus is
// configured and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	limit    int
	total    int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a memory Publisher keeping every message.
func New() *Publisher {
	return &Publisher{}
}

// NewBounded returns a memory Publisher that keeps only the newest limit
// messages.
func NewBounded(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Total returns how many messages were ever published.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}
