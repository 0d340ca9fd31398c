// Package app initializes and holds the long-lived services of a frontier
// process, acting as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/clock/system"
	"github.com/JakeFAU/adaptive-frontier/internal/config"
	"github.com/JakeFAU/adaptive-frontier/internal/cost"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/adaptive-frontier/internal/fetcher/colly"
	"github.com/JakeFAU/adaptive-frontier/internal/frontier"
	"github.com/JakeFAU/adaptive-frontier/internal/hash/sha256"
	iduuid "github.com/JakeFAU/adaptive-frontier/internal/id/uuid"
	"github.com/JakeFAU/adaptive-frontier/internal/langdetect"
	"github.com/JakeFAU/adaptive-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/adaptive-frontier/internal/precedence"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
	"github.com/JakeFAU/adaptive-frontier/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/adaptive-frontier/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/adaptive-frontier/internal/publisher/pubsub"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
	"github.com/JakeFAU/adaptive-frontier/internal/scope"
	gcsstore "github.com/JakeFAU/adaptive-frontier/internal/storage/gcs"
	localstore "github.com/JakeFAU/adaptive-frontier/internal/storage/local"
	memorystore "github.com/JakeFAU/adaptive-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/adaptive-frontier/internal/storage/postgres"
	redisstore "github.com/JakeFAU/adaptive-frontier/internal/storage/redis"
	"github.com/JakeFAU/adaptive-frontier/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type closer struct {
	name  string
	close func(context.Context) error
}

type check struct {
	name  string
	check func(context.Context) error
}

// App holds the shared services of one crawl job. It is built once at
// startup and closed by the command that created it.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	jobID  uuid.UUID
	clock  crawler.Clock

	hub       *progress.Hub
	recent    *memorypublisher.Publisher
	pending   crawler.PendingStore
	content   crawler.ContentStore
	languages *langdetect.Adapter
	preparer  *frontier.Preparer
	scheduler dispatcher.Scheduler
	scope     *scope.Sequence

	checks  []check
	closers []closer
}

// New builds every service named by cfg. Collectors are registered with reg
// (the default registerer when nil). It fails fast: services already opened
// are closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jobID, err := iduuid.New().Resolve(cfg.Frontier.JobID)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("job_id", jobID.String())),
		jobID:  jobID,
		clock:  system.New(),
	}
	a.logger.Info("initializing frontier services",
		zap.String("mode", cfg.Frontier.Mode),
		zap.String("pending", cfg.Pending.Backend),
		zap.String("content", cfg.Content.Backend),
		zap.String("cost", cfg.Cost.Policy),
	)

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"progress", func(ctx context.Context) error { return a.initProgress(ctx, reg) }},
		{"pending store", a.initPending},
		{"content store", a.initContent},
		{"language detector", func(context.Context) error { return a.initLanguages() }},
		{"cost policy", func(context.Context) error { return a.initPreparer() }},
		{"frontier", func(context.Context) error { return a.initScheduler() }},
		{"scope", func(context.Context) error { return a.initScope() }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	a.logger.Info("frontier services initialized")
	return a, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) onReady(name string, fn func(context.Context) error) {
	a.checks = append(a.checks, check{name: name, check: fn})
}

func (a *App) initProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	hubSinks := []progress.Sink{promSink}
	if a.cfg.Progress.Log {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.logger))
	}
	if n := a.cfg.Progress.Recent; n > 0 {
		a.recent = memorypublisher.NewBounded(n)
		hubSinks = append(hubSinks, sinks.NewPublisherSink(a.recent, "recent", nil, a.logger))
	}
	if ps := a.cfg.Progress.PubSub; ps.TopicName != "" {
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		publisher := pubsubpublisher.New(client.Topic(ps.TopicName))
		a.onClose("pubsub", func(context.Context) error {
			publisher.Stop()
			return client.Close()
		})
		hubSinks = append(hubSinks, sinks.NewPublisherSink(publisher, ps.TopicName, nil, a.logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger,
	}, hubSinks...)
	a.onClose("progress hub", a.hub.Close)
	return nil
}

func (a *App) initPending(ctx context.Context) error {
	pc := a.cfg.Pending
	switch pc.Backend {
	case "postgres":
		store, err := pgstore.NewPendingStore(ctx, pgstore.PendingStoreConfig{
			DSN:             pc.Postgres.DSN,
			Table:           pc.Postgres.Table,
			MaxConns:        pc.Postgres.MaxConns,
			MinConns:        pc.Postgres.MinConns,
			MaxConnLifetime: time.Duration(pc.Postgres.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		a.onClose("postgres", func(context.Context) error { return store.Close() })
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		if pc.Reset {
			if err := store.Reset(ctx); err != nil {
				return err
			}
		}
		a.pending = store
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			Addr:     pc.Redis.Addr,
			Password: pc.Redis.Password,
			DB:       pc.Redis.DB,
			Prefix:   pc.Redis.Prefix,
			PageSize: int(pc.Redis.PageSize),
		})
		if err != nil {
			return err
		}
		a.onClose("redis", func(context.Context) error { return store.Close() })
		if err := store.Ping(ctx); err != nil {
			return err
		}
		if pc.Reset {
			if err := store.Reset(ctx); err != nil {
				return err
			}
		}
		a.onReady("redis", store.Ping)
		a.pending = store
	default:
		a.pending = memorystore.NewPendingStore()
	}
	return nil
}

func (a *App) initContent(ctx context.Context) error {
	cc := a.cfg.Content
	switch cc.Backend {
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: cc.BaseDir, Prefix: cc.Prefix}, sha256.New())
		if err != nil {
			return err
		}
		a.content = store
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cc.Bucket, Prefix: cc.Prefix}, sha256.New())
		if err != nil {
			return err
		}
		a.content = store
	default:
		a.content = memorystore.NewContentStore()
	}
	return nil
}

// needsLanguages reports whether any configured component reads page
// languages. Loading lingua models is skipped otherwise.
func (a *App) needsLanguages() bool {
	switch {
	case a.cfg.Cost.Policy == cost.PolicyLanguage:
		return true
	case a.cfg.Cost.Policy == cost.PolicyClassifier && a.cfg.Cost.Classifier.UseLanguages:
		return true
	case len(a.cfg.Scope.Languages) > 0:
		return true
	case a.cfg.Frontier.Mode == config.ModeRelearning:
		return true
	}
	return false
}

func (a *App) initLanguages() error {
	if !a.needsLanguages() {
		return nil
	}
	detector, err := langdetect.NewLingua(langdetect.Options{
		Languages:     a.cfg.Detector.Languages,
		MinConfidence: a.cfg.Detector.MinConfidence,
		Preload:       a.cfg.Detector.Preload,
	})
	if err != nil {
		return err
	}
	a.languages = &langdetect.Adapter{Source: a.content, Detector: detector}
	return nil
}

func (a *App) initPreparer() error {
	cc := a.cfg.Cost
	deps := cost.Deps{Source: a.content}
	if a.languages != nil {
		deps.Detector = a.languages.Detector
	}
	if cc.Policy == cost.PolicyClassifier {
		deps.Scorer = remote.NewClassifier(remote.ClassifierConfig{
			URL:       a.cfg.Classifier.URL,
			UserAgent: a.cfg.Classifier.UserAgent,
			Timeout:   time.Duration(a.cfg.Classifier.TimeoutSeconds) * time.Second,
			Base64:    a.cfg.Classifier.Base64,
		}, nil, a.logger)
	}
	policy, err := cost.New(cost.Settings{
		Policy: cc.Policy,
		Domain: cost.DomainOnlyConfig{
			ExploitSameDomain: cc.Domain.ExploitSameDomain,
			CrossDomainCost:   cc.Domain.CrossDomainCost,
			BadSchemeCost:     cc.Domain.BadSchemeCost,
		},
		Language: cost.LanguageConfig{
			Preferred:           cc.Language.Preferred,
			ApplyOnlyToHTML:     cc.Language.ApplyOnlyToHTML,
			OnlyReliable:        cc.Language.OnlyReliable,
			UseOnlyMainLanguage: cc.Language.UseOnlyMainLanguage,
			UseCoveredText:      cc.Language.UseCoveredText,
			ExploitSameDomain:   cc.Language.ExploitSameDomain,
			SameDomainReward:    cc.Language.SameDomainReward,
		},
		Classifier: cost.ClassifierConfig{
			Ranking:           cc.Classifier.Ranking,
			Threshold:         cc.Classifier.Threshold,
			ApplyOnlyToHTML:   cc.Classifier.ApplyOnlyToHTML,
			UseLanguages:      cc.Classifier.UseLanguages,
			OnlyReliable:      cc.Classifier.OnlyReliable,
			Lang1:             cc.Classifier.Lang1,
			Lang2:             cc.Classifier.Lang2,
			ExploitSameDomain: cc.Classifier.ExploitSameDomain,
		},
	}, deps, a.logger)
	if err != nil {
		return err
	}
	a.preparer = frontier.NewPreparer(policy, precedence.NewCostAndReset(a.cfg.Frontier.FinalCost))
	return nil
}

func (a *App) initScheduler() error {
	f, err := frontier.New(frontier.Config{
		Store:      a.pending,
		SeenShards: a.cfg.Frontier.SeenShards,
		Events:     a.hub,
		JobID:      a.jobID,
		Clock:      a.clock,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	if a.cfg.Frontier.Mode != config.ModeRelearning {
		a.scheduler = f
		return nil
	}
	rc := a.cfg.Relearning
	reorderer := remote.NewReorderer(remote.ReorderConfig{
		URL:         rc.URL,
		UserAgent:   rc.UserAgent,
		Timeout:     time.Duration(rc.TimeoutSeconds) * time.Second,
		Base64:      rc.Base64,
		MaxAttempts: rc.MaxAttempts,
	}, nil, nil, a.logger)
	cfg := frontier.RelearningConfig{LangPreference: rc.LangPreference, Reorderer: reorderer}
	if a.languages != nil {
		cfg.Languages = a.languages
	}
	r, err := frontier.NewRelearning(f, cfg)
	if err != nil {
		return err
	}
	a.scheduler = r
	return nil
}

func (a *App) initScope() error {
	sc := a.cfg.Scope
	fallback, err := scope.ParseDecision(sc.Fallback)
	if err != nil {
		return err
	}
	var rules []scope.Rule
	if sc.CommonSuffix != "" {
		decision, err := scope.ParseDecision(sc.SuffixDecision)
		if err != nil {
			return err
		}
		rules = append(rules, scope.CommonSuffix{Suffix: sc.CommonSuffix, Different: sc.DifferentSuffix, Decision: decision})
	}
	if len(sc.Languages) > 0 {
		decision, err := scope.ParseDecision(sc.LanguageDecision)
		if err != nil {
			return err
		}
		rules = append(rules, scope.NewLanguagePreference(scope.LanguageConfig{
			Languages:       sc.Languages,
			CheckAbsence:    sc.CheckAbsence,
			OnlyReliable:    sc.OnlyReliable,
			ApplyOnlyToHTML: sc.ApplyOnlyToHTML,
			SkipSeeds:       sc.SkipSeeds,
			Decision:        decision,
		}, a.languages, a.logger))
	}
	a.scope = scope.NewSequence(fallback, a.logger, rules...)
	return nil
}

// JobID returns the ID tagging this crawl.
func (a *App) JobID() uuid.UUID { return a.jobID }

// Logger returns the job-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Scheduler returns the frontier, wrapped by the relearning loop in that mode.
func (a *App) Scheduler() dispatcher.Scheduler { return a.scheduler }

// Preparer returns the cost and precedence stage for new candidates.
func (a *App) Preparer() *frontier.Preparer { return a.preparer }

// Content returns the store fetched pages are recorded in.
func (a *App) Content() crawler.ContentStore { return a.content }

// Recent returns the in-memory log of published progress batches, or nil
// when it is disabled.
func (a *App) Recent() *memorypublisher.Publisher { return a.recent }

// Scope returns the outlink scope rules.
func (a *App) Scope() *scope.Sequence { return a.scope }

// Ready checks the external services the frontier depends on.
func (a *App) Ready(ctx context.Context) error {
	for _, c := range a.checks {
		if err := c.check(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", c.name, err)
		}
	}
	return nil
}

// Workers builds the crawl harness workers sharing coord. Relearning mode
// runs a single worker: sibling batches must arrive contiguously.
func (a *App) Workers(coord *worker.Coordinator) []*worker.Worker {
	cc := a.cfg.Crawler
	n := cc.Concurrency
	if a.cfg.Frontier.Mode == config.ModeRelearning && n > 1 {
		a.logger.Warn("relearning mode forces a single worker", zap.Int("configured", n))
		n = 1
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cc.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MaxBodySize: cc.MaxBodyBytes,
	})
	deps := worker.Deps{
		Scheduler: a.scheduler,
		Fetcher:   fetcher,
		Preparer:  a.preparer,
		Scope:     a.scope,
		Limiter:   ratelimit.New(ratelimit.Config{RPS: cc.HostRPS, Burst: cc.HostBurst}),
		Content:   a.content,
		Events:    a.hub,
		Clock:     a.clock,
	}
	wcfg := worker.Config{
		JobID:        a.jobID,
		PollInterval: a.cfg.PollInterval(),
		Retry:        remote.NewExponentialRetryPolicy(cc.MaxRetries + 1),
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, worker.New(i, deps, wcfg, coord, a.logger))
	}
	return workers
}

// Close shuts services down in reverse order of creation and flushes the
// logger. It is safe to call on a partially built App.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down frontier services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
