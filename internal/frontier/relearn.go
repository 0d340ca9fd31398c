package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
)

// BatchState is the phase of the relearning batch currently tracked.
type BatchState int

// Batch phases, in the order a batch moves through them.
const (
	StateIdle BatchState = iota
	StateCollecting
	StateBatchComplete
	StateAwaitingService
	StateResequencing
)

func (s BatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateBatchComplete:
		return "batch_complete"
	case StateAwaitingService:
		return "awaiting_service"
	case StateResequencing:
		return "resequencing"
	default:
		return "unknown"
	}
}

// Batch outcomes reported to metrics and progress events.
const (
	batchOK        = "ok"
	batchEmpty     = "empty"
	batchFailed    = "failed"
	batchViolation = "violation"
)

// Reorderer asks the reordering service how to sequence one sibling batch.
type Reorderer interface {
	Reorder(ctx context.Context, req remote.ReorderRequest) (remote.ReorderResult, error)
}

// LanguageSource detects the language of an already fetched page.
type LanguageSource interface {
	DetectURI(ctx context.Context, uri string) (crawler.Content, crawler.Detection, error)
}

// RelearningConfig configures the sibling reordering loop.
type RelearningConfig struct {
	// LangPreference is the two-letter language the crawl favours. It is
	// validated on every Submit.
	LangPreference string
	Reorderer      Reorderer
	// Languages detects the parent page language sent to the service.
	Languages LanguageSource
}

// Relearning holds the outlinks of one fetched parent until all of them
// arrived, then lets the reordering service decide which to enqueue and
// which to fetch next. Batches are serialized: the host must submit one
// parent's outlinks contiguously.
type Relearning struct {
	*Frontier

	reorderer      Reorderer
	languages      LanguageSource
	langPreference string
	rlogger        *zap.Logger

	batchMu    sync.Mutex
	batch      *batch
	state      BatchState
	lastParent string
}

type batch struct {
	parentKey string
	parent    *crawler.Candidate
	expected  int
	accounted int
	members   map[string]*crawler.Candidate
	order     []*crawler.Candidate
	started   time.Time
}

func (b *batch) add(c *crawler.Candidate) {
	if _, ok := b.members[c.Key()]; ok {
		return
	}
	b.members[c.Key()] = c
	b.members[c.URI] = c
	b.order = append(b.order, c)
}

func (b *batch) member(uri string) (*crawler.Candidate, bool) {
	c, ok := b.members[uri]
	return c, ok
}

// NewRelearning wraps f with the reordering loop.
func NewRelearning(f *Frontier, cfg RelearningConfig) (*Relearning, error) {
	if f == nil {
		return nil, fmt.Errorf("frontier is required: %w", ErrConfig)
	}
	if cfg.Reorderer == nil {
		return nil, fmt.Errorf("reorderer is required: %w", ErrConfig)
	}
	return &Relearning{
		Frontier:       f,
		reorderer:      cfg.Reorderer,
		languages:      cfg.Languages,
		langPreference: cfg.LangPreference,
		rlogger:        f.logger.Named("relearning"),
	}, nil
}

// State returns the phase of the current batch.
func (r *Relearning) State() BatchState {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.state
}

// Submit routes c through the batch loop. Seeds and candidates opening a
// new queue are enqueued at once; other candidates wait for their siblings.
// Protocol violations and failed batches are returned and reset the loop.
func (r *Relearning) Submit(ctx context.Context, c *crawler.Candidate) error {
	if r.Terminated() {
		return ErrTerminated
	}
	if len(r.langPreference) != 2 {
		return fmt.Errorf("lang preference %q must have two letters: %w", r.langPreference, ErrConfig)
	}
	if c == nil || c.URI == "" {
		r.Receive(ctx, c)
		return nil
	}
	c = c.Clone()
	if c.ClassKey == "" {
		c.ClassKey = authority.ClassKey(c.URI)
	}
	if c.Seed || c.ReferrerKey() == "" {
		r.Receive(ctx, c)
		return nil
	}

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.collectLocked(ctx, c)
}

func (r *Relearning) collectLocked(ctx context.Context, c *crawler.Candidate) error {
	parentKey := c.ReferrerKey()
	if r.batch == nil {
		if parentKey == r.lastParent {
			return r.violationLocked(parentKey, fmt.Errorf("batch of %s reopened: %w", parentKey, ErrProtocol))
		}
		parent, ok := r.Seen(parentKey)
		if !ok {
			return r.violationLocked(parentKey, fmt.Errorf("parent %s has no recorded outlinks: %w", parentKey, ErrProtocol))
		}
		r.batch = &batch{
			parentKey: parentKey,
			parent:    parent,
			expected:  len(parent.Outlinks),
			members:   make(map[string]*crawler.Candidate),
			started:   r.clock.Now(),
		}
		r.state = StateCollecting
	} else if parentKey != r.batch.parentKey {
		return r.violationLocked(parentKey, fmt.Errorf("referrer %s does not match batch parent %s: %w", parentKey, r.batch.parentKey, ErrProtocol))
	}

	b := r.batch
	b.accounted++
	if b.accounted > b.expected {
		return r.violationLocked(parentKey, fmt.Errorf("parent %s got %d outlinks, recorded %d: %w", parentKey, b.accounted, b.expected, ErrProtocol))
	}
	if r.HasQueue(c.ClassKey) {
		b.add(c)
		r.finish(c, r.decision(c, OutcomeHeld, ReasonBatched))
	} else {
		r.Receive(ctx, c)
	}
	if b.accounted < b.expected {
		return nil
	}
	return r.resolveLocked(ctx)
}

// resolveLocked consults the service for the complete batch and re-injects
// its answer.
func (r *Relearning) resolveLocked(ctx context.Context) error {
	b := r.batch
	r.state = StateBatchComplete
	if len(b.order) == 0 {
		r.rlogger.Debug("batch had no held outlinks", zap.String("parent", b.parent.URI))
		r.closeLocked(b, batchEmpty, nil)
		return nil
	}

	r.state = StateAwaitingService
	children := make([]string, 0, len(b.order))
	for _, c := range b.order {
		children = append(children, c.URI)
	}
	res, err := r.reorderer.Reorder(ctx, remote.ReorderRequest{
		Parent:     b.parent.URI,
		ParentLang: r.parentLanguage(ctx, b.parent),
		Children:   children,
	})
	if err != nil {
		err = fmt.Errorf("reorder batch of %s: %w: %w", b.parent.URI, ErrBatchFailed, err)
		r.closeLocked(b, batchFailed, err)
		return err
	}

	r.state = StateResequencing
	filtered := make([]*crawler.Candidate, 0, len(res.Filtered))
	for _, uri := range res.Filtered {
		m, ok := b.member(uri)
		if !ok {
			err := fmt.Errorf("filtered uri %s is not an outlink of %s: %w", uri, b.parent.URI, ErrProtocol)
			r.closeLocked(b, batchViolation, err)
			return err
		}
		filtered = append(filtered, m)
	}
	action, ok := b.member(res.ActionURI)
	if !ok {
		err := fmt.Errorf("action uri %s is not an outlink of %s: %w", res.ActionURI, b.parent.URI, ErrProtocol)
		r.closeLocked(b, batchViolation, err)
		return err
	}

	for _, m := range filtered {
		r.Receive(ctx, m)
	}
	r.requeue(ctx, action)
	r.closeLocked(b, batchOK, nil)
	return nil
}

// requeue moves the pending copy of c behind its current slot so it is
// dispatched once more with precedence+1.
func (r *Relearning) requeue(ctx context.Context, c *crawler.Candidate) {
	q := r.queue(c.ClassKey)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	next := c.Clone()
	if seen, ok := r.Seen(next.Key()); ok {
		next.Precedence = seen.Precedence
	}
	holder, found, err := r.locate(ctx, q, next.Key())
	if err != nil {
		r.rlogger.Warn("locate action uri failed", zap.String("uri", next.URI), zap.String("via", next.Via), zap.Error(err))
		return
	}
	if !found {
		r.rlogger.Debug("action uri not pending", zap.String("uri", next.URI))
		return
	}
	next.Precedence++
	r.finish(next, r.replaceLocked(ctx, q, holder, next, OutcomeReplaced, ReasonReordered))
}

func (r *Relearning) parentLanguage(ctx context.Context, parent *crawler.Candidate) string {
	if r.languages == nil {
		return ""
	}
	_, det, err := r.languages.DetectURI(ctx, parent.URI)
	if err != nil {
		r.rlogger.Warn("parent language unavailable", zap.String("parent", parent.URI), zap.Error(err))
		return ""
	}
	lang := det.Best()
	r.rlogger.Debug("parent language",
		zap.String("parent", parent.URI),
		zap.String("lang", lang),
		zap.Bool("reliable", det.Reliable),
		zap.Bool("preferred", lang == r.langPreference),
	)
	return lang
}

func (r *Relearning) violationLocked(parentKey string, err error) error {
	b := r.batch
	if b == nil {
		b = &batch{parentKey: parentKey, parent: &crawler.Candidate{URI: parentKey}, started: r.clock.Now()}
	}
	r.rlogger.Error("relearning protocol violation", zap.String("parent", parentKey), zap.Error(err))
	r.closeLocked(b, batchViolation, err)
	return err
}

// closeLocked returns the loop to Idle and reports how the batch ended.
func (r *Relearning) closeLocked(b *batch, outcome string, err error) {
	if r.batch == b {
		r.lastParent = b.parentKey
	}
	r.batch = nil
	r.state = StateIdle
	metrics.ObserveRelearningBatch(outcome)

	evt := progress.Event{
		JobID:   progress.UUIDToBytes(r.jobID),
		TS:      r.clock.Now(),
		Stage:   progress.StageBatch,
		Site:    b.parent.ClassKey,
		URL:     b.parent.URI,
		Outcome: outcome,
		Reason:  fmt.Sprintf("%d/%d", len(b.order), b.expected),
		Dur:     r.clock.Now().Sub(b.started),
	}
	if err != nil {
		evt.Note = err.Error()
		if !errors.Is(err, ErrProtocol) {
			r.rlogger.Warn("relearning batch failed", zap.String("parent", b.parent.URI), zap.Error(err))
		}
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	r.events.Emit(evt)
}

// Terminate stops the frontier and forgets any batch in progress.
func (r *Relearning) Terminate(ctx context.Context) error {
	err := r.Frontier.Terminate(ctx)
	r.discardBatch()
	return err
}

// Abort fails the job with cause and discards any open batch.
func (r *Relearning) Abort(ctx context.Context, cause error) error {
	err := r.Frontier.Abort(ctx, cause)
	r.discardBatch()
	return err
}

func (r *Relearning) discardBatch() {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.batch = nil
	r.lastParent = ""
	r.state = StateIdle
}
