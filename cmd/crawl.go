package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/adaptive-frontier/internal/dispatcher"
	"github.com/JakeFAU/adaptive-frontier/internal/worker"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		maxPages int64
		serve    bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawl from seed URLs until the frontier drains",
		Long: `Seeds the frontier and runs the built-in fetch workers against it until
no work is left, the page budget is spent or the process is interrupted.
Seeds default to crawler.seeds from the configuration.`,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if !cmd.Flags().Changed("max-pages") {
				maxPages = rt.cfg.Crawler.MaxPages
			}
			return runCrawl(cmd, args, rt, maxPages, serve)
		}),
	}
	cmd.Flags().Int64Var(&maxPages, "max-pages", 0, "stop after this many fetches (0 means unlimited)")
	cmd.Flags().BoolVar(&serve, "serve", false, "also serve the HTTP API while crawling")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, rt *runtime, maxPages int64, serve bool) error {
	seeds := args
	if len(seeds) == 0 {
		seeds = rt.cfg.Crawler.Seeds
	}
	if len(seeds) == 0 {
		return errors.New("no seeds: pass seed URLs or set crawler.seeds")
	}

	coord := worker.NewCoordinator(maxPages)
	scheduler := rt.app.Scheduler()
	d := dispatcher.New(scheduler, rt.app.Preparer(), rt.app.Workers(coord), rt.logger)
	if err := d.Seed(cmd.Context(), seeds); err != nil {
		return fmt.Errorf("seed crawl: %w", err)
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	crawlCtx, stopServer := context.WithCancel(ctx)
	if serve {
		srv := newHTTPServer(rt)
		g.Go(func() error { return serveHTTP(crawlCtx, srv, rt.logger) })
	}
	g.Go(func() error {
		defer stopServer()
		return d.Run(crawlCtx)
	})
	err := g.Wait()
	stopServer()

	fetched := coord.Pages()
	if maxPages > 0 {
		fetched = min(fetched, maxPages)
	}
	stats := scheduler.Stats()
	rt.logger.Info("crawl finished",
		zap.Int64("fetched", fetched),
		zap.Int64("enqueued", stats.Enqueued),
		zap.Int64("replaced", stats.Replaced),
		zap.Any("dropped", stats.Dropped),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "crawl finished: %d pages fetched, %d enqueued\n", fetched, stats.Enqueued)
	return nil
}
