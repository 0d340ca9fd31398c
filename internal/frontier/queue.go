package frontier

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// holderKey orders pending entries of one class by precedence, then arrival.
// Negative precedences share the zero slot in the store's key order; the
// in-memory index keeps their true order.
func holderKey(classKey string, precedence int, seq uint64) string {
	if precedence < 0 {
		precedence = 0
	}
	return fmt.Sprintf("%s|%010d|%016d", classKey, precedence, seq)
}

func classPrefix(classKey string) string {
	return classKey + "|"
}

// entry indexes one pending candidate of a WorkQueue.
type entry struct {
	holder      string
	key         string
	referrerKey string
	precedence  int
	seq         uint64
}

func (e entry) less(o entry) bool {
	if e.precedence != o.precedence {
		return e.precedence < o.precedence
	}
	return e.seq < o.seq
}

// WorkQueue is the pending work of one class key. The serialized candidates
// live in the PendingStore; the queue keeps their ordering and the candidate
// currently being fetched. Callers hold mu for every method below.
type WorkQueue struct {
	mu       sync.Mutex
	classKey string
	entries  []entry
	inFlight *crawler.Candidate
}

func newWorkQueue(classKey string) *WorkQueue {
	return &WorkQueue{classKey: classKey}
}

func (q *WorkQueue) prefix() string {
	return classPrefix(q.classKey)
}

func (q *WorkQueue) insert(e entry) {
	i := sort.Search(len(q.entries), func(i int) bool { return e.less(q.entries[i]) })
	q.entries = append(q.entries, entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *WorkQueue) has(holder string) bool {
	for _, e := range q.entries {
		if e.holder == holder {
			return true
		}
	}
	return false
}

func (q *WorkQueue) remove(holder string) bool {
	for i, e := range q.entries {
		if e.holder == holder {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *WorkQueue) pop() (entry, bool) {
	if len(q.entries) == 0 {
		return entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// head returns the key and referrer key of the head-of-line candidate: the
// one in flight, else the lowest pending entry.
func (q *WorkQueue) head() (key, referrerKey string, ok bool) {
	if q.inFlight != nil {
		return q.inFlight.Key(), q.inFlight.ReferrerKey(), true
	}
	if len(q.entries) > 0 {
		return q.entries[0].key, q.entries[0].referrerKey, true
	}
	return "", "", false
}

func (q *WorkQueue) ready() bool {
	return q.inFlight == nil && len(q.entries) > 0
}

func (q *WorkQueue) len() int {
	return len(q.entries)
}
