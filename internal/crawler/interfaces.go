package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors reported by collaborators.
var (
	// ErrPendingNotFound is returned by a PendingStore for an unknown key.
	ErrPendingNotFound = errors.New("pending entry not found")
	// ErrContentNotFound is returned when a page has not been recorded yet.
	ErrContentNotFound = errors.New("content not found")
)

// PendingStore persists queued candidates under opaque holder keys.
type PendingStore interface {
	Put(ctx context.Context, entry PendingEntry) error
	Get(ctx context.Context, key string) (PendingEntry, error)
	Delete(ctx context.Context, key string) error
	// Cursor iterates entries whose key starts with prefix, in key order.
	Cursor(ctx context.Context, prefix string) (Cursor, error)
	Close() error
}

// PendingLookup is implemented by stores that can find a pending entry by
// canonical key without a linear scan.
type PendingLookup interface {
	Lookup(ctx context.Context, canonicalKey, prefix string) (string, bool, error)
}

// Cursor walks PendingStore entries. Callers must Close it.
type Cursor interface {
	Next(ctx context.Context) bool
	Entry() PendingEntry
	Err() error
	Close() error
}

// ContentSource replays the recorded content of an already fetched page.
type ContentSource interface {
	Content(ctx context.Context, uri string) (Content, error)
}

// ContentStore records fetched pages so they can be replayed later.
type ContentStore interface {
	ContentSource
	Store(ctx context.Context, content Content) error
}

// LanguageDetector inspects text and reports the languages it contains.
type LanguageDetector interface {
	Detect(text string) Detection
}

// Detection is the output of a LanguageDetector. Languages are ordered by
// text coverage, not by score.
type Detection struct {
	Reliable  bool
	Languages []DetectedLanguage
}

// Best returns the most covering language code, or "" when none was found.
func (d Detection) Best() string {
	if len(d.Languages) == 0 {
		return ""
	}
	return d.Languages[0].Code
}

// DetectedLanguage describes one language found in a text.
type DetectedLanguage struct {
	// Code is the lowercase ISO 639-1 code.
	Code  string
	Score float64
	// Coverage is the fraction of the text in this language, in [0,1].
	Coverage float64
}

// Fetcher fetches a URI and returns the page plus its outlinks.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (Page, error)
}

// Publisher sends a JSON-serializable payload to a topic and returns the
// broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used to name stored objects.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl job IDs. A job ID tags every progress event
// and namespaces the content a crawl records.
type IDGenerator interface {
	NewJobID() (uuid.UUID, error)
}
