// Package worker implements the host crawl loop that drains the frontier:
// it fetches dispatched candidates, records their content and outlinks, and
// scores and submits the outlinks back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/clock/system"
	"github.com/JakeFAU/adaptive-frontier/internal/cost"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
)

// DefaultPollInterval is how long an idle worker waits before asking the
// frontier for work again.
const DefaultPollInterval = 200 * time.Millisecond

// ErrExhausted is returned by Run when the crawl has nothing left to do:
// the frontier drained or the page budget was spent.
var ErrExhausted = errors.New("crawl exhausted")

// Scheduler is the frontier surface the worker drives. Both
// *frontier.Frontier and *frontier.Relearning satisfy it.
type Scheduler interface {
	Next(ctx context.Context) (*crawler.Candidate, error)
	Finished(ctx context.Context, c *crawler.Candidate) error
	Submit(ctx context.Context, c *crawler.Candidate) error
	Done() <-chan struct{}
	Stats() frontier.Stats
}

// Preparer assigns cost and precedence to a candidate before submission.
type Preparer interface {
	Prepare(ctx context.Context, c *crawler.Candidate) cost.Result
}

// Scope filters outlinks before they are scored.
type Scope interface {
	Allowed(ctx context.Context, c *crawler.Candidate) bool
}

// Limiter paces fetches per authority.
type Limiter interface {
	Wait(ctx context.Context, uri string) error
}

// Deps are the collaborators of a Worker. Scope, Limiter, Content and
// Events are optional.
type Deps struct {
	Scheduler Scheduler
	Fetcher   crawler.Fetcher
	Preparer  Preparer
	Scope     Scope
	Limiter   Limiter
	Content   crawler.ContentStore
	Events    progress.Emitter
	Clock     crawler.Clock
}

// Config controls Worker behavior.
type Config struct {
	JobID        uuid.UUID
	PollInterval time.Duration
	// Retry governs fetch retries; nil fetches once.
	Retry remote.RetryPolicy
}

// Coordinator is the state shared by the workers of one crawl.
type Coordinator struct {
	maxPages int64
	taken    atomic.Int64
	active   atomic.Int64
}

// NewCoordinator returns a Coordinator allowing maxPages fetches; zero or
// less means unlimited.
func NewCoordinator(maxPages int64) *Coordinator {
	return &Coordinator{maxPages: maxPages}
}

// Take reserves one page from the budget.
func (c *Coordinator) Take() bool {
	n := c.taken.Add(1)
	return c.maxPages <= 0 || n <= c.maxPages
}

// Pages returns the number of pages dispatched so far.
func (c *Coordinator) Pages() int64 {
	return c.taken.Load()
}

func (c *Coordinator) acquire()       { c.active.Add(1) }
func (c *Coordinator) release() int64 { return c.active.Add(-1) }

// Worker runs the fetch loop.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	coord  *Coordinator
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, coord *Coordinator, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if coord == nil {
		coord = NewCoordinator(0)
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		coord:  coord,
		logger: logger.Named("worker").With(zap.Int("worker", id), zap.String("job_id", cfg.JobID.String())),
	}
}

// Run blocks until the context finishes, the frontier terminates, or the
// crawl is exhausted (ErrExhausted). Other errors are protocol failures that
// should stop the crawl.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.deps.Scheduler.Done():
			return nil
		default:
		}

		w.coord.acquire()
		c, err := w.deps.Scheduler.Next(ctx)
		if err != nil {
			active := w.coord.release()
			switch {
			case errors.Is(err, frontier.ErrTerminated):
				return nil
			case errors.Is(err, frontier.ErrNoWork):
				if active == 0 && w.drained() {
					w.logger.Info("frontier drained")
					return ErrExhausted
				}
			default:
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("next candidate failed", zap.Error(err))
			}
			if err := sleepContext(ctx, w.cfg.PollInterval); err != nil {
				return nil
			}
			continue
		}

		if !w.coord.Take() {
			w.coord.release()
			w.logger.Info("page budget spent", zap.Int64("pages", w.coord.Pages()-1))
			return ErrExhausted
		}
		err = w.process(ctx, c)
		w.coord.release()
		if err != nil {
			return err
		}
	}
}

func (w *Worker) drained() bool {
	stats := w.deps.Scheduler.Stats()
	return stats.Queued == 0 && stats.InFlight == 0
}

// process fetches c, reports its outlinks to the frontier and submits the
// ones in scope.
func (w *Worker) process(ctx context.Context, c *crawler.Candidate) error {
	start := w.deps.Clock.Now()
	page, err := w.fetch(ctx, c.URI)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("fetch failed", zap.String("uri", c.URI), zap.String("via", c.Via), zap.Error(err))
		metrics.ObserveCrawl(c.URI, "error", 0)
		w.emitFetch(c, 0, 0, w.deps.Clock.Now().Sub(start), err.Error())
		return w.finished(ctx, c, nil)
	}
	metrics.ObserveCrawl(c.URI, string(progress.ClassifyStatus(page.StatusCode)), len(page.Body))

	if w.deps.Content != nil {
		if err := w.deps.Content.Store(ctx, page.Content); err != nil {
			w.logger.Warn("store content failed", zap.String("uri", c.URI), zap.Error(err))
		}
	}

	children := w.outlinks(ctx, c, page.Links)
	keys := make([]string, 0, len(children))
	for _, child := range children {
		keys = append(keys, child.Key())
	}
	if err := w.finished(ctx, c, keys); err != nil {
		return err
	}
	w.emitFetch(c, page.StatusCode, int64(len(page.Body)), w.deps.Clock.Now().Sub(start), "")

	for _, child := range children {
		if w.deps.Preparer != nil {
			w.deps.Preparer.Prepare(ctx, child)
		}
		if err := w.deps.Scheduler.Submit(ctx, child); err != nil {
			if errors.Is(err, frontier.ErrBatchFailed) {
				w.logger.Warn("relearning batch failed", zap.String("parent", c.URI), zap.Error(err))
				continue
			}
			if errors.Is(err, frontier.ErrTerminated) {
				return nil
			}
			return fmt.Errorf("submit outlink %s of %s: %w", child.URI, c.URI, err)
		}
	}
	w.logger.Debug("page processed",
		zap.String("uri", c.URI),
		zap.Int("status", page.StatusCode),
		zap.Int("links", len(page.Links)),
		zap.Int("outlinks", len(children)),
	)
	return nil
}

func (w *Worker) finished(ctx context.Context, c *crawler.Candidate, outlinks []string) error {
	done := c.Clone()
	done.Outlinks = outlinks
	if err := w.deps.Scheduler.Finished(ctx, done); err != nil {
		if errors.Is(err, frontier.ErrTerminated) {
			return nil
		}
		return fmt.Errorf("finish %s: %w", c.URI, err)
	}
	return nil
}

// outlinks turns raw links into candidates keyed by their normalized URL:
// fragments stripped, duplicates and non-http links dropped, scope applied.
func (w *Worker) outlinks(ctx context.Context, parent *crawler.Candidate, links []string) []*crawler.Candidate {
	seen := make(map[string]struct{}, len(links))
	out := make([]*crawler.Candidate, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		u.Fragment = ""
		u.RawFragment = ""
		key, err := crawler.NormalizeURL(u.String())
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		child := &crawler.Candidate{
			URI:          u.String(),
			CanonicalKey: key,
			Via:          parent.URI,
			ViaKey:       parent.Key(),
			HolderCost:   crawler.DefaultHolderCost,
		}
		if w.deps.Scope != nil && !w.deps.Scope.Allowed(ctx, child) {
			continue
		}
		out = append(out, child)
	}
	return out
}

func (w *Worker) fetch(ctx context.Context, uri string) (crawler.Page, error) {
	for attempt := 1; ; attempt++ {
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Wait(ctx, uri); err != nil {
				return crawler.Page{}, err
			}
		}
		page, err := w.deps.Fetcher.Fetch(ctx, uri)
		if err == nil {
			return page, nil
		}
		if w.cfg.Retry == nil || !w.cfg.Retry.ShouldRetry(err, attempt) {
			return crawler.Page{}, err
		}
		w.logger.Debug("retrying fetch", zap.String("uri", uri), zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepContext(ctx, w.cfg.Retry.Backoff(attempt)); sleepErr != nil {
			return crawler.Page{}, err
		}
	}
}

func (w *Worker) emitFetch(c *crawler.Candidate, status int, size int64, dur time.Duration, note string) {
	visits := int64(0)
	if status > 0 {
		visits = 1
	}
	if dur < 0 {
		dur = 0
	}
	w.deps.Events.Emit(progress.Event{
		JobID:       progress.UUIDToBytes(w.cfg.JobID),
		TS:          w.deps.Clock.Now(),
		Stage:       progress.StageFetchDone,
		Site:        c.ClassKey,
		URL:         c.URI,
		Via:         c.Via,
		Precedence:  c.Precedence,
		Bytes:       size,
		Visits:      visits,
		StatusClass: progress.ClassifyStatus(status),
		Dur:         dur,
		Note:        note,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
