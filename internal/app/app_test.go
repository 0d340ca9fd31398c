package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/app"
	"github.com/JakeFAU/adaptive-frontier/internal/config"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/dispatcher"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
	localstore "github.com/JakeFAU/adaptive-frontier/internal/storage/local"
	"github.com/JakeFAU/adaptive-frontier/internal/worker"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	a := newApp(t, cfg)

	_, ok := a.Scheduler().(*frontier.Frontier)
	require.True(t, ok, "replace mode schedules on the plain frontier")
	require.NotNil(t, a.Preparer())
	require.NotNil(t, a.Content())
	require.Zero(t, a.Scope().Len())
	require.NoError(t, a.Ready(context.Background()))
	require.NotEqual(t, uuid.Nil, a.JobID())
	require.Len(t, a.Workers(worker.NewCoordinator(0)), cfg.Crawler.Concurrency)
}

func TestNewPinnedJobID(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Frontier.JobID = "0192f5a0-7c1e-7d3a-9c4b-2f1e0d9c8b7a"
	a := newApp(t, cfg)
	require.Equal(t, cfg.Frontier.JobID, a.JobID().String())

	cfg.Frontier.JobID = "nope"
	_, err := app.New(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.ErrorContains(t, err, "parse job id")
}

func TestNewRelearningRunsOneWorker(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Frontier.Mode = config.ModeRelearning
	cfg.Relearning.URL = "http://127.0.0.1:1/reorder"
	cfg.Relearning.LangPreference = "en"
	cfg.Detector.Languages = []string{"en", "fr"}
	a := newApp(t, cfg)

	_, ok := a.Scheduler().(*frontier.Relearning)
	require.True(t, ok)
	require.Len(t, a.Workers(worker.NewCoordinator(0)), 1)
}

func TestNewRedisPendingStore(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := defaultConfig(t)
	cfg.Pending.Backend = "redis"
	cfg.Pending.Redis.Addr = mr.Addr()
	cfg.Pending.Reset = true
	a := newApp(t, cfg)

	ctx := context.Background()
	c := &crawler.Candidate{URI: "http://a.example/", Seed: true}
	a.Preparer().Prepare(ctx, c)
	require.NoError(t, a.Scheduler().Submit(ctx, c))
	require.NotEmpty(t, mr.Keys())
	require.NoError(t, a.Ready(ctx))

	mr.Close()
	require.ErrorContains(t, a.Ready(ctx), "redis not ready")
}

func TestNewRedisUnreachable(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Pending.Backend = "redis"
	cfg.Pending.Redis.Addr = "127.0.0.1:1"
	_, err := app.New(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.ErrorContains(t, err, "init pending store")
}

func TestNewLocalContentStore(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Content.Backend = "local"
	cfg.Content.BaseDir = t.TempDir()
	a := newApp(t, cfg)

	_, ok := a.Content().(*localstore.ContentStore)
	require.True(t, ok)
}

func TestNewRejectsUnknownCostPolicy(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Cost.Policy = "bogus"
	_, err := app.New(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.ErrorContains(t, err, "init cost policy")
}

func TestScopeRulesFromConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Scope.CommonSuffix = ".example"
	cfg.Scope.DifferentSuffix = true
	cfg.Scope.SuffixDecision = "reject"
	a := newApp(t, cfg)

	ctx := context.Background()
	require.Equal(t, 1, a.Scope().Len())
	require.True(t, a.Scope().Allowed(ctx, &crawler.Candidate{URI: "http://a.example/x"}))
	require.False(t, a.Scope().Allowed(ctx, &crawler.Candidate{URI: "http://a.other/x"}))
}

func TestCrawlDrainsSite(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"/":  `<a href="/a">a</a><a href="/b">b</a>`,
		"/a": `<a href="/">home</a><a href="/b">b</a>`,
		"/b": `<p>leaf</p>`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
	t.Cleanup(server.Close)

	cfg := defaultConfig(t)
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.PollIntervalMs = 10
	cfg.Crawler.MaxRetries = 0
	a := newApp(t, cfg)

	coord := worker.NewCoordinator(20)
	d := dispatcher.New(a.Scheduler(), a.Preparer(), a.Workers(coord), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Seed(ctx, []string{server.URL + "/"}))
	require.NoError(t, d.Run(ctx))

	for path := range pages {
		content, err := a.Content().Content(ctx, server.URL+path)
		require.NoError(t, err, path)
		require.Contains(t, string(content.Body), "<html>")
	}
	require.Equal(t, int64(3), coord.Pages())
	require.True(t, a.Scheduler().Stats().Done)
}
