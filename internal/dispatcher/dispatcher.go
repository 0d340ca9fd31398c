// Package dispatcher fans the frontier out to a pool of workers and ends the
// crawl when they are done.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
	"github.com/JakeFAU/adaptive-frontier/internal/worker"
)

// Scheduler is the frontier as seen by the dispatcher.
type Scheduler interface {
	worker.Scheduler
	Terminate(ctx context.Context) error
}

// aborter is implemented by schedulers that record why a crawl failed.
type aborter interface {
	Abort(ctx context.Context, cause error) error
}

// Dispatcher runs workers against one frontier.
type Dispatcher struct {
	scheduler Scheduler
	preparer  worker.Preparer
	workers   []*worker.Worker
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(scheduler Scheduler, preparer worker.Preparer, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		scheduler: scheduler,
		preparer:  preparer,
		workers:   workers,
		logger:    logger.Named("dispatcher"),
	}
}

// Seed submits the crawl seeds.
func (d *Dispatcher) Seed(ctx context.Context, uris []string) error {
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		c := &crawler.Candidate{URI: uri, Seed: true, HolderCost: crawler.DefaultHolderCost}
		if key, err := crawler.NormalizeURL(uri); err == nil {
			c.CanonicalKey = key
		}
		if d.preparer != nil {
			d.preparer.Prepare(ctx, c)
		}
		if err := d.scheduler.Submit(ctx, c); err != nil {
			return fmt.Errorf("submit seed %s: %w", uri, err)
		}
	}
	return nil
}

// Run starts all workers and blocks until they stop. The frontier is
// terminated on the way out, or aborted when a worker error cancelled the
// others. That error is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			err := w.Run(gctx)
			if errors.Is(err, worker.ErrExhausted) {
				d.terminate(gctx)
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	if err != nil {
		d.abort(context.WithoutCancel(ctx), err)
		return fmt.Errorf("crawl stopped: %w", err)
	}
	d.terminate(context.WithoutCancel(ctx))
	return nil
}

func (d *Dispatcher) abort(ctx context.Context, cause error) {
	a, ok := d.scheduler.(aborter)
	if !ok {
		d.terminate(ctx)
		return
	}
	if err := a.Abort(ctx, cause); err != nil && !errors.Is(err, frontier.ErrTerminated) {
		d.logger.Warn("abort frontier failed", zap.Error(err))
	}
}

func (d *Dispatcher) terminate(ctx context.Context) {
	if err := d.scheduler.Terminate(ctx); err != nil && !errors.Is(err, frontier.ErrTerminated) {
		d.logger.Warn("terminate frontier failed", zap.Error(err))
	}
}
