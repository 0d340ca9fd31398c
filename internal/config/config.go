// Package config loads and validates frontier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Frontier modes.
const (
	ModeReplace    = "replace"
	ModeRelearning = "relearning"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	Pending    PendingConfig    `mapstructure:"pending"`
	Content    ContentConfig    `mapstructure:"content"`
	Cost       CostConfig       `mapstructure:"cost"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Relearning RelearningConfig `mapstructure:"relearning"`
	Scope      ScopeConfig      `mapstructure:"scope"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FrontierConfig selects the scheduling mode.
type FrontierConfig struct {
	// JobID pins the crawl job ID; empty generates a fresh UUIDv7.
	JobID      string `mapstructure:"job_id"`
	Mode       string `mapstructure:"mode"`
	FinalCost  int    `mapstructure:"final_cost"`
	SeenShards int    `mapstructure:"seen_shards"`
}

// PendingConfig selects where queued candidates are kept.
type PendingConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	// Reset clears entries left by a previous run on startup. On by default:
	// leftover rows are unknown to the in-memory queues.
	Reset bool `mapstructure:"reset"`
}

// PostgresConfig controls the Postgres pending store.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// RedisConfig controls the Redis pending store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	PageSize int64  `mapstructure:"page_size"`
}

// ContentConfig selects where fetched pages are recorded for replay.
type ContentConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// CostConfig selects and tunes the cost policy.
type CostConfig struct {
	Policy     string               `mapstructure:"policy"`
	Domain     DomainCostConfig     `mapstructure:"domain"`
	Language   LanguageCostConfig   `mapstructure:"language"`
	Classifier ClassifierCostConfig `mapstructure:"classifier"`
}

// DomainCostConfig tunes the domain-only policy.
type DomainCostConfig struct {
	ExploitSameDomain bool `mapstructure:"exploit_same_domain"`
	CrossDomainCost   int  `mapstructure:"cross_domain_cost"`
	BadSchemeCost     int  `mapstructure:"bad_scheme_cost"`
}

// LanguageCostConfig tunes the language preference policy.
type LanguageCostConfig struct {
	Preferred           []string `mapstructure:"preferred"`
	ApplyOnlyToHTML     bool     `mapstructure:"apply_only_to_html"`
	OnlyReliable        bool     `mapstructure:"only_reliable"`
	UseOnlyMainLanguage bool     `mapstructure:"use_only_main_language"`
	UseCoveredText      bool     `mapstructure:"use_covered_text"`
	ExploitSameDomain   bool     `mapstructure:"exploit_same_domain"`
	SameDomainReward    float64  `mapstructure:"same_domain_reward"`
}

// ClassifierCostConfig tunes the external classifier policy.
type ClassifierCostConfig struct {
	Ranking           bool    `mapstructure:"ranking"`
	Threshold         float64 `mapstructure:"threshold"`
	ApplyOnlyToHTML   bool    `mapstructure:"apply_only_to_html"`
	UseLanguages      bool    `mapstructure:"use_languages"`
	OnlyReliable      bool    `mapstructure:"only_reliable"`
	Lang1             string  `mapstructure:"lang1"`
	Lang2             string  `mapstructure:"lang2"`
	ExploitSameDomain bool    `mapstructure:"exploit_same_domain"`
}

// DetectorConfig controls language detection.
type DetectorConfig struct {
	Languages     []string `mapstructure:"languages"`
	MinConfidence float64  `mapstructure:"min_confidence"`
	Preload       bool     `mapstructure:"preload"`
}

// ClassifierConfig points at the relevance classifier service.
type ClassifierConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	Base64         bool   `mapstructure:"base64"`
}

// RelearningConfig points at the sibling reordering service.
type RelearningConfig struct {
	URL            string `mapstructure:"url"`
	LangPreference string `mapstructure:"lang_preference"`
	Base64         bool   `mapstructure:"base64"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ScopeConfig configures the outlink scope rules. A rule is enabled by
// setting its suffix or language list.
type ScopeConfig struct {
	Fallback         string   `mapstructure:"fallback"`
	CommonSuffix     string   `mapstructure:"common_suffix"`
	DifferentSuffix  bool     `mapstructure:"different_suffix"`
	SuffixDecision   string   `mapstructure:"suffix_decision"`
	Languages        []string `mapstructure:"languages"`
	CheckAbsence     bool     `mapstructure:"check_absence"`
	OnlyReliable     bool     `mapstructure:"only_reliable"`
	ApplyOnlyToHTML  bool     `mapstructure:"apply_only_to_html"`
	SkipSeeds        bool     `mapstructure:"skip_seeds"`
	LanguageDecision string   `mapstructure:"language_decision"`
}

// ProgressConfig controls the decision event hub and its sinks.
type ProgressConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	Log            bool `mapstructure:"log"`
	// Recent is how many published batches /v1/events keeps; zero disables it.
	Recent int          `mapstructure:"recent"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CrawlerConfig governs the built-in crawl harness.
type CrawlerConfig struct {
	Seeds          []string `mapstructure:"seeds"`
	Concurrency    int      `mapstructure:"concurrency"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	PollIntervalMs int      `mapstructure:"poll_interval_ms"`
	MaxPages       int64    `mapstructure:"max_pages"`
	MaxRetries     int      `mapstructure:"max_retries"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
	// HostRPS caps fetches per authority per second; zero disables it.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("frontier.mode", ModeReplace)
	v.SetDefault("frontier.final_cost", 1)
	v.SetDefault("frontier.seen_shards", 32)
	v.SetDefault("pending.backend", "memory")
	v.SetDefault("pending.reset", true)
	v.SetDefault("pending.postgres.table", "frontier_pending")
	v.SetDefault("pending.postgres.max_conns", 8)
	v.SetDefault("pending.postgres.min_conns", 1)
	v.SetDefault("pending.postgres.max_conn_lifetime_seconds", 1800)
	v.SetDefault("pending.redis.addr", "localhost:6379")
	v.SetDefault("pending.redis.prefix", "frontier:pending")
	v.SetDefault("pending.redis.page_size", 256)
	v.SetDefault("content.backend", "memory")
	v.SetDefault("content.prefix", "pages")
	v.SetDefault("cost.policy", "domain")
	v.SetDefault("cost.domain.cross_domain_cost", 50)
	v.SetDefault("cost.domain.bad_scheme_cost", 150)
	v.SetDefault("cost.language.preferred", []string{"en", "fr"})
	v.SetDefault("cost.language.apply_only_to_html", true)
	v.SetDefault("cost.language.only_reliable", true)
	v.SetDefault("cost.language.use_only_main_language", true)
	v.SetDefault("cost.classifier.threshold", 50.0)
	v.SetDefault("cost.classifier.apply_only_to_html", true)
	v.SetDefault("cost.classifier.use_languages", true)
	v.SetDefault("cost.classifier.only_reliable", true)
	v.SetDefault("detector.min_confidence", 0.5)
	v.SetDefault("classifier.timeout_seconds", 10)
	v.SetDefault("classifier.user_agent", "adaptive-frontier/0.1")
	v.SetDefault("relearning.timeout_seconds", 10)
	v.SetDefault("relearning.max_attempts", 3)
	v.SetDefault("relearning.user_agent", "adaptive-frontier/0.1")
	v.SetDefault("scope.fallback", "accept")
	v.SetDefault("scope.suffix_decision", "accept")
	v.SetDefault("scope.language_decision", "accept")
	v.SetDefault("scope.only_reliable", true)
	v.SetDefault("scope.apply_only_to_html", true)
	v.SetDefault("scope.skip_seeds", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.recent", 100)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "adaptive-frontier/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.poll_interval_ms", 200)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.host_rps", 2.0)
	v.SetDefault("crawler.host_burst", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if err := c.validateFrontier(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateCost(); err != nil {
		return err
	}
	if err := c.validateScope(); err != nil {
		return err
	}
	if c.Progress.PubSub.TopicName != "" && c.Progress.PubSub.ProjectID == "" {
		return fmt.Errorf("progress.pubsub.project_id must be set with a topic")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.HostRPS < 0 {
		return fmt.Errorf("crawler.host_rps must be >= 0")
	}
	return nil
}

func (c Config) validateFrontier() error {
	switch c.Frontier.Mode {
	case ModeReplace:
	case ModeRelearning:
		if c.Relearning.URL == "" {
			return fmt.Errorf("relearning.url must be set in relearning mode")
		}
		if len(c.Relearning.LangPreference) != 2 {
			return fmt.Errorf("relearning.lang_preference must be a two-letter code")
		}
	default:
		return fmt.Errorf("frontier.mode %q is not one of replace, relearning", c.Frontier.Mode)
	}
	if c.Frontier.SeenShards < 0 {
		return fmt.Errorf("frontier.seen_shards must be >= 0")
	}
	return nil
}

func (c Config) validateStores() error {
	switch c.Pending.Backend {
	case "memory":
	case "postgres":
		if c.Pending.Postgres.DSN == "" {
			return fmt.Errorf("pending.postgres.dsn must be set for the postgres backend")
		}
	case "redis":
		if c.Pending.Redis.Addr == "" {
			return fmt.Errorf("pending.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("pending.backend %q is not one of memory, postgres, redis", c.Pending.Backend)
	}
	switch c.Content.Backend {
	case "memory":
	case "local":
		if c.Content.BaseDir == "" {
			return fmt.Errorf("content.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Content.Bucket == "" {
			return fmt.Errorf("content.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("content.backend %q is not one of memory, local, gcs", c.Content.Backend)
	}
	return nil
}

func (c Config) validateCost() error {
	switch c.Cost.Policy {
	case "domain", "language":
	case "classifier":
		if c.Classifier.URL == "" {
			return fmt.Errorf("classifier.url must be set for the classifier cost policy")
		}
		if t := c.Cost.Classifier.Threshold; t < 0 || t > 100 {
			return fmt.Errorf("cost.classifier.threshold must be within [0, 100]")
		}
		if cc := c.Cost.Classifier; cc.UseLanguages {
			if !isLangCode(cc.Lang1) || !isLangCode(cc.Lang2) || cc.Lang1 == cc.Lang2 {
				return fmt.Errorf("cost.classifier.lang1 and lang2 must be two distinct two-letter codes when use_languages is set, got %q and %q", cc.Lang1, cc.Lang2)
			}
		}
	default:
		return fmt.Errorf("cost.policy %q is not one of domain, language, classifier", c.Cost.Policy)
	}
	return nil
}

func isLangCode(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'z' && s[1] >= 'a' && s[1] <= 'z'
}

func (c Config) validateScope() error {
	for key, value := range map[string]string{
		"scope.fallback":          c.Scope.Fallback,
		"scope.suffix_decision":   c.Scope.SuffixDecision,
		"scope.language_decision": c.Scope.LanguageDecision,
	} {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "", "accept", "reject":
		default:
			return fmt.Errorf("%s %q is not one of accept, reject", key, value)
		}
	}
	return nil
}

// RequestTimeout returns the per-request API deadline.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds)
}

// FetchTimeout returns the crawl harness fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return seconds(c.Crawler.TimeoutSeconds)
}

// PollInterval returns how long idle workers wait for work.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Crawler.PollIntervalMs) * time.Millisecond
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
