package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultHolderCost is the cost a candidate carries before any policy ran
// and the value precedence policies reset it to after scheduling.
const DefaultHolderCost = 1

// Candidate is a discovered link on its way through the frontier.
type Candidate struct {
	// URI is the absolute URI to fetch.
	URI string `json:"uri"`
	// Via is the URI of the page the link was found on; empty for seeds.
	Via string `json:"via,omitempty"`
	// ViaKey is the canonical key of the referrer, when known.
	ViaKey string `json:"via_key,omitempty"`
	// CanonicalKey is the deduplication identity. Key falls back to URI.
	CanonicalKey string `json:"canonical_key"`
	// ClassKey names the work queue the candidate belongs to.
	ClassKey   string `json:"class_key"`
	Seed       bool   `json:"seed,omitempty"`
	ForceFetch bool   `json:"force_fetch,omitempty"`
	// Precedence orders a work queue; lower is dispatched sooner.
	Precedence int `json:"precedence"`
	// HolderCost is the cost staged by a cost policy until the precedence
	// policy consumes it.
	HolderCost int `json:"holder_cost"`
	// Outlinks holds the canonical keys of the links extracted from this
	// candidate. It is only populated once the candidate was fetched.
	Outlinks []string `json:"outlinks,omitempty"`
}

// Key returns the canonical deduplication key of the candidate.
func (c *Candidate) Key() string {
	if c == nil {
		return ""
	}
	if c.CanonicalKey != "" {
		return c.CanonicalKey
	}
	return c.URI
}

// ReferrerKey returns the canonical key of the referrer, falling back to Via.
func (c *Candidate) ReferrerKey() string {
	if c == nil {
		return ""
	}
	if c.ViaKey != "" {
		return c.ViaKey
	}
	return c.Via
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Outlinks != nil {
		cp.Outlinks = append([]string(nil), c.Outlinks...)
	}
	return &cp
}

// Marshal serializes the candidate for a PendingStore.
func (c *Candidate) Marshal() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal candidate: %w", err)
	}
	return data, nil
}

// UnmarshalCandidate decodes a candidate previously written with Marshal.
func UnmarshalCandidate(data []byte) (*Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal candidate: %w", err)
	}
	return &c, nil
}

// Content is a fetched document as recorded by the host crawler.
type Content struct {
	URI         string    `json:"uri"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// PendingEntry is one record of a PendingStore.
type PendingEntry struct {
	// Key is the opaque holder key; entries iterate in key order.
	Key          string
	CanonicalKey string
	Value        []byte
}

// Page is the result of fetching a candidate in the host harness.
type Page struct {
	Content
	// Links are the absolute outlinks in document order.
	Links    []string
	Duration time.Duration
}
