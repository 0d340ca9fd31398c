// Package frontier schedules crawl candidates into per-class work queues.
//
// The Frontier keeps at most one pending copy of each canonical key per
// queue: a strictly better duplicate replaces the pending copy in place,
// anything else is dropped. Relearning layers a sibling-batch reordering
// loop on top of it.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/clock/system"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
)

// Config wires a Frontier to its collaborators.
type Config struct {
	// Store holds the serialized pending candidates. Required.
	Store crawler.PendingStore
	// SeenShards is the number of seen-index shards (default 32).
	SeenShards int
	// Events receives one DECISION event per Receive call.
	Events progress.Emitter
	// JobID tags events and the termination log line.
	JobID  uuid.UUID
	Clock  crawler.Clock
	Logger *zap.Logger
}

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Queues   int              `json:"queues"`
	Queued   int64            `json:"queued"`
	InFlight int64            `json:"in_flight"`
	Seen     int              `json:"seen"`
	Enqueued int64            `json:"enqueued"`
	Replaced int64            `json:"replaced"`
	Dropped  map[string]int64 `json:"dropped"`
	Done     bool             `json:"done"`
}

// Frontier is the duplicate-aware work queue manager.
type Frontier struct {
	store  crawler.PendingStore
	lookup crawler.PendingLookup
	seen   *seenIndex
	events progress.Emitter
	jobID  uuid.UUID
	clock  crawler.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	queues map[string]*WorkQueue
	order  []string
	cursor atomic.Uint64

	seq      atomic.Uint64
	queued   atomic.Int64
	inFlight atomic.Int64
	enqueued atomic.Int64
	replaced atomic.Int64

	dropMu  sync.Mutex
	dropped map[string]int64

	started    time.Time
	terminated atomic.Bool
	termOnce   sync.Once
	done       chan struct{}
}

// New builds a Frontier. A nil logger or emitter disables that output.
func New(cfg Config) (*Frontier, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("pending store is required: %w", ErrConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = progress.Discard
	}
	clock := cfg.Clock
	if clock == nil {
		clock = system.New()
	}
	f := &Frontier{
		store:   cfg.Store,
		seen:    newSeenIndex(cfg.SeenShards),
		events:  events,
		jobID:   cfg.JobID,
		clock:   clock,
		logger:  logger.Named("frontier").With(zap.String("job_id", cfg.JobID.String())),
		queues:  make(map[string]*WorkQueue),
		dropped: make(map[string]int64),
		done:    make(chan struct{}),
	}
	if lookup, ok := cfg.Store.(crawler.PendingLookup); ok {
		f.lookup = lookup
	}
	f.started = clock.Now()
	f.events.Emit(progress.Event{JobID: progress.UUIDToBytes(f.jobID), TS: f.started, Stage: progress.StageJobStart})
	return f, nil
}

// Receive schedules c. It never fails: every problem ends in a dropped
// decision that is logged and counted.
func (f *Frontier) Receive(ctx context.Context, c *crawler.Candidate) Decision {
	if c == nil || c.URI == "" {
		return f.finish(nil, Decision{Outcome: OutcomeDropped, Reason: ReasonInvalid})
	}
	c = c.Clone()
	if c.ClassKey == "" {
		c.ClassKey = authority.ClassKey(c.URI)
	}
	if f.terminated.Load() {
		return f.finish(c, f.decision(c, OutcomeDropped, ReasonTerminated))
	}

	q, created := f.queueFor(c.ClassKey)
	q.mu.Lock()
	defer q.mu.Unlock()
	if created {
		return f.finish(c, f.enqueueLocked(ctx, q, c, OutcomeEnqueued, ReasonNewQueue))
	}
	return f.finish(c, f.receiveLocked(ctx, q, c))
}

// Submit is the host-facing form of Receive.
func (f *Frontier) Submit(ctx context.Context, c *crawler.Candidate) error {
	if f.terminated.Load() {
		return ErrTerminated
	}
	f.Receive(ctx, c)
	return nil
}

func (f *Frontier) receiveLocked(ctx context.Context, q *WorkQueue, c *crawler.Candidate) Decision {
	key := c.Key()
	if headKey, headRef, ok := q.head(); ok && (headKey == key || headRef == key) {
		return f.decision(c, OutcomeDropped, ReasonInFlight)
	}

	seen, ok := f.seen.Get(key)
	if !ok {
		return f.enqueueLocked(ctx, q, c, OutcomeEnqueued, ReasonNew)
	}
	if c.ForceFetch {
		return f.enqueueLocked(ctx, q, c, OutcomeEnqueued, ReasonForced)
	}
	if c.Precedence >= seen.Precedence {
		f.logger.Debug("duplicate not better",
			zap.String("uri", c.URI),
			zap.Int("precedence", c.Precedence),
			zap.Int("seen_precedence", seen.Precedence),
		)
		return f.decision(c, OutcomeDropped, ReasonNotBetter)
	}

	holder, found, err := f.locate(ctx, q, key)
	if err != nil {
		f.logger.Warn("replace pending duplicate failed",
			zap.String("uri", c.URI),
			zap.String("via", c.Via),
			zap.Error(err),
		)
		return f.decision(c, OutcomeDropped, ReasonReplaceFailed)
	}
	if !found {
		return f.decision(c, OutcomeDropped, ReasonAlreadyFetched)
	}
	return f.replaceLocked(ctx, q, holder, c, OutcomeReplaced, ReasonBetter)
}

// replaceLocked enqueues c in place of the pending copy stored under holder.
// The new copy is stored before the old one goes, so a store failure leaves
// the old copy pending.
func (f *Frontier) replaceLocked(ctx context.Context, q *WorkQueue, holder string, c *crawler.Candidate, outcome Outcome, reason string) Decision {
	d := f.enqueueLocked(ctx, q, c, outcome, reason)
	if d.Outcome != outcome {
		return d
	}
	if q.remove(holder) {
		f.queued.Add(-1)
	}
	if err := f.store.Delete(ctx, holder); err != nil && !errors.Is(err, crawler.ErrPendingNotFound) {
		f.logger.Warn("delete replaced candidate failed",
			zap.String("uri", c.URI),
			zap.String("holder", holder),
			zap.Error(err),
		)
	}
	return d
}

// locate finds the holder key of the pending copy of key within q. Store rows
// q does not index are leftovers of an earlier process; they are deleted and
// the search goes on.
func (f *Frontier) locate(ctx context.Context, q *WorkQueue, key string) (string, bool, error) {
	if f.lookup == nil {
		return f.scan(ctx, q, key)
	}
	var last string
	for {
		holder, found, err := f.lookup.Lookup(ctx, key, q.prefix())
		if err != nil {
			return "", false, fmt.Errorf("lookup pending %s: %w", key, err)
		}
		if !found || q.has(holder) {
			return holder, found, nil
		}
		if holder == last {
			return "", false, fmt.Errorf("stale pending %s survived delete", holder)
		}
		if err := f.dropStale(ctx, holder); err != nil {
			return "", false, err
		}
		last = holder
	}
}

func (f *Frontier) scan(ctx context.Context, q *WorkQueue, key string) (string, bool, error) {
	cur, err := f.store.Cursor(ctx, q.prefix())
	if err != nil {
		return "", false, fmt.Errorf("open pending cursor: %w", err)
	}
	var (
		holder string
		found  bool
		stale  []string
	)
	for cur.Next(ctx) {
		e := cur.Entry()
		if e.CanonicalKey != key {
			continue
		}
		if q.has(e.Key) {
			holder, found = e.Key, true
			break
		}
		stale = append(stale, e.Key)
	}
	err = cur.Err()
	_ = cur.Close()
	if err != nil {
		return "", false, fmt.Errorf("scan pending: %w", err)
	}
	for _, h := range stale {
		if err := f.dropStale(ctx, h); err != nil {
			return "", false, err
		}
	}
	return holder, found, nil
}

func (f *Frontier) dropStale(ctx context.Context, holder string) error {
	f.logger.Warn("deleting stale pending row", zap.String("holder", holder))
	if err := f.store.Delete(ctx, holder); err != nil && !errors.Is(err, crawler.ErrPendingNotFound) {
		return fmt.Errorf("delete stale pending %s: %w", holder, err)
	}
	return nil
}

// enqueueLocked stores c, records it in the seen index and inserts it into q.
func (f *Frontier) enqueueLocked(ctx context.Context, q *WorkQueue, c *crawler.Candidate, outcome Outcome, reason string) Decision {
	key := c.Key()
	seq := f.seq.Add(1)
	holder := holderKey(q.classKey, c.Precedence, seq)
	data, err := c.Marshal()
	if err != nil {
		f.logger.Warn("encode candidate failed", zap.String("uri", c.URI), zap.Error(err))
		return f.decision(c, OutcomeDropped, ReasonStoreFailed)
	}

	if err := f.store.Put(ctx, crawler.PendingEntry{Key: holder, CanonicalKey: key, Value: data}); err != nil {
		f.logger.Warn("store pending candidate failed",
			zap.String("uri", c.URI),
			zap.String("via", c.Via),
			zap.Error(err),
		)
		return f.decision(c, OutcomeDropped, ReasonStoreFailed)
	}
	f.seen.Put(key, c)
	q.insert(entry{
		holder:      holder,
		key:         key,
		referrerKey: c.ReferrerKey(),
		precedence:  c.Precedence,
		seq:         seq,
	})
	f.queued.Add(1)
	return f.decision(c, outcome, reason)
}

// Next hands out the best pending candidate of the next queue that has no
// fetch in flight. It returns ErrNoWork when nothing is ready.
func (f *Frontier) Next(ctx context.Context) (*crawler.Candidate, error) {
	if f.terminated.Load() {
		return nil, ErrTerminated
	}
	f.mu.RLock()
	order := append([]string(nil), f.order...)
	f.mu.RUnlock()
	if len(order) == 0 {
		return nil, ErrNoWork
	}

	start := int(f.cursor.Add(1) % uint64(len(order)))
	for i := range order {
		q := f.queue(order[(start+i)%len(order)])
		c, err := f.dispatch(ctx, q)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, ErrNoWork
}

func (f *Frontier) dispatch(ctx context.Context, q *WorkQueue) (*crawler.Candidate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.ready() {
		e, _ := q.pop()
		f.queued.Add(-1)
		pending, err := f.store.Get(ctx, e.holder)
		if errors.Is(err, crawler.ErrPendingNotFound) {
			f.logger.Warn("pending entry vanished", zap.String("holder", e.holder))
			continue
		}
		if err != nil {
			q.insert(e)
			f.queued.Add(1)
			return nil, fmt.Errorf("load pending %s: %w", e.holder, err)
		}
		c, err := crawler.UnmarshalCandidate(pending.Value)
		if err != nil {
			f.logger.Warn("discarding undecodable pending entry", zap.String("holder", e.holder), zap.Error(err))
			_ = f.store.Delete(ctx, e.holder)
			continue
		}
		if err := f.store.Delete(ctx, e.holder); err != nil && !errors.Is(err, crawler.ErrPendingNotFound) {
			q.insert(e)
			f.queued.Add(1)
			return nil, fmt.Errorf("delete pending %s: %w", e.holder, err)
		}
		q.inFlight = c
		f.inFlight.Add(1)
		return c.Clone(), nil
	}
	return nil, nil
}

// Finished releases the queue of a fetched candidate and records it, with
// its outlinks, in the seen index.
func (f *Frontier) Finished(_ context.Context, c *crawler.Candidate) error {
	if f.terminated.Load() {
		return ErrTerminated
	}
	if c == nil {
		return fmt.Errorf("finished candidate is nil: %w", ErrProtocol)
	}
	classKey := c.ClassKey
	if classKey == "" {
		classKey = authority.ClassKey(c.URI)
	}
	if q := f.queue(classKey); q != nil {
		q.mu.Lock()
		if q.inFlight != nil && q.inFlight.Key() == c.Key() {
			q.inFlight = nil
			f.inFlight.Add(-1)
		}
		q.mu.Unlock()
	}
	f.seen.Put(c.Key(), c)
	f.logger.Debug("candidate finished",
		zap.String("uri", c.URI),
		zap.Int("outlinks", len(c.Outlinks)),
	)
	return nil
}

// Terminate discards the seen index and closes Done. Only the first call of
// Terminate or Abort succeeds; later ones return ErrTerminated.
func (f *Frontier) Terminate(_ context.Context) error {
	return f.shutdown(nil)
}

// Abort terminates the frontier like Terminate but records cause as the
// reason the job failed.
func (f *Frontier) Abort(_ context.Context, cause error) error {
	return f.shutdown(cause)
}

func (f *Frontier) shutdown(cause error) error {
	err := ErrTerminated
	f.termOnce.Do(func() {
		f.terminated.Store(true)
		stats := f.Stats()
		f.seen.Clear()
		close(f.done)

		now := f.clock.Now()
		evt := progress.Event{
			JobID: progress.UUIDToBytes(f.jobID),
			TS:    now,
			Stage: progress.StageJobDone,
			Dur:   max(now.Sub(f.started), 0),
		}
		fields := []zap.Field{
			zap.Int("queues", stats.Queues),
			zap.Int64("queued", stats.Queued),
			zap.Int64("enqueued", stats.Enqueued),
			zap.Int64("replaced", stats.Replaced),
			zap.Int("seen", stats.Seen),
			zap.Duration("uptime", evt.Dur),
		}
		if cause != nil {
			evt.Stage = progress.StageJobError
			evt.Note = cause.Error()
			f.logger.Warn("job aborted", append(fields, zap.Error(cause))...)
		} else {
			f.logger.Info("job terminated", fields...)
		}
		f.events.Emit(evt)
		err = nil
	})
	return err
}

// Done is closed once the frontier has been terminated.
func (f *Frontier) Done() <-chan struct{} {
	return f.done
}

// Terminated reports whether Terminate has run.
func (f *Frontier) Terminated() bool {
	return f.terminated.Load()
}

// Stats returns current counters.
func (f *Frontier) Stats() Stats {
	f.mu.RLock()
	queues := len(f.queues)
	f.mu.RUnlock()

	f.dropMu.Lock()
	dropped := make(map[string]int64, len(f.dropped))
	for reason, n := range f.dropped {
		dropped[reason] = n
	}
	f.dropMu.Unlock()

	return Stats{
		Queues:   queues,
		Queued:   f.queued.Load(),
		InFlight: f.inFlight.Load(),
		Seen:     f.seen.Len(),
		Enqueued: f.enqueued.Load(),
		Replaced: f.replaced.Load(),
		Dropped:  dropped,
		Done:     f.terminated.Load(),
	}
}

// Seen returns the last recorded snapshot for a canonical key.
func (f *Frontier) Seen(key string) (*crawler.Candidate, bool) {
	return f.seen.Get(key)
}

// HasQueue reports whether a work queue exists for classKey.
func (f *Frontier) HasQueue(classKey string) bool {
	return f.queue(classKey) != nil
}

func (f *Frontier) queue(classKey string) *WorkQueue {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.queues[classKey]
}

// queueFor returns the queue for classKey, creating it when missing. created
// is true only for the caller that made it.
func (f *Frontier) queueFor(classKey string) (*WorkQueue, bool) {
	if q := f.queue(classKey); q != nil {
		return q, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[classKey]; ok {
		return q, false
	}
	q := newWorkQueue(classKey)
	f.queues[classKey] = q
	f.order = append(f.order, classKey)
	return q, true
}

func (f *Frontier) decision(c *crawler.Candidate, outcome Outcome, reason string) Decision {
	return Decision{
		Outcome:    outcome,
		Reason:     reason,
		Key:        c.Key(),
		ClassKey:   c.ClassKey,
		Precedence: c.Precedence,
	}
}

// finish counts the decision and publishes it.
func (f *Frontier) finish(c *crawler.Candidate, d Decision) Decision {
	switch d.Outcome {
	case OutcomeEnqueued:
		f.enqueued.Add(1)
	case OutcomeReplaced:
		f.replaced.Add(1)
	case OutcomeDropped:
		f.dropMu.Lock()
		f.dropped[d.Reason]++
		f.dropMu.Unlock()
	}
	f.emit(c, d)
	return d
}

func (f *Frontier) emit(c *crawler.Candidate, d Decision) {
	evt := progress.Event{
		JobID:      progress.UUIDToBytes(f.jobID),
		TS:         f.clock.Now(),
		Stage:      progress.StageDecision,
		Site:       d.ClassKey,
		Outcome:    string(d.Outcome),
		Reason:     d.Reason,
		Precedence: d.Precedence,
	}
	if c != nil {
		evt.URL = c.URI
		evt.Via = c.Via
	}
	f.events.Emit(evt)
}
