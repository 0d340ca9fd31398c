package cost

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// LanguageConfig configures LanguagePreference.
type LanguageConfig struct {
	// Preferred lists ISO 639-1 codes; defaults to en and fr.
	Preferred []string
	// ApplyOnlyToHTML gives non-HTML referrers a fixed cost.
	ApplyOnlyToHTML bool
	// OnlyReliable gives unreliable detections a fixed cost.
	OnlyReliable bool
	// UseOnlyMainLanguage only considers the most covering language.
	UseOnlyMainLanguage bool
	// UseCoveredText scores by text coverage and selects the ranking cost
	// band. When false a matching language scores as full coverage.
	UseCoveredText    bool
	ExploitSameDomain bool
	// SameDomainReward is added to the coverage percentage before inversion.
	SameDomainReward float64
}

// DefaultLanguageConfig mirrors the documented defaults.
func DefaultLanguageConfig() LanguageConfig {
	return LanguageConfig{
		Preferred:           []string{"en", "fr"},
		ApplyOnlyToHTML:     true,
		OnlyReliable:        true,
		UseOnlyMainLanguage: true,
	}
}

// LanguagePreference scores candidates by how much of the referrer page is
// written in a preferred language.
type LanguagePreference struct {
	cfg      LanguageConfig
	source   crawler.ContentSource
	detector crawler.LanguageDetector
	logger   *zap.Logger
}

// NewLanguagePreference builds the language policy.
func NewLanguagePreference(cfg LanguageConfig, source crawler.ContentSource, detector crawler.LanguageDetector, logger *zap.Logger) *LanguagePreference {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Preferred) == 0 {
		cfg.Preferred = DefaultLanguageConfig().Preferred
	}
	for i, code := range cfg.Preferred {
		cfg.Preferred[i] = strings.ToLower(strings.TrimSpace(code))
	}
	return &LanguagePreference{cfg: cfg, source: source, detector: detector, logger: logger.Named("cost.language")}
}

// Name implements Policy.
func (p *LanguagePreference) Name() string { return "language" }

// Assess implements Policy.
func (p *LanguagePreference) Assess(ctx context.Context, c *crawler.Candidate) Result {
	ranking := p.cfg.UseCoveredText
	res, pr, done := ladder(p.logger, c, ladderCosts{selfLink: band(ranking, 4), badScheme: band(ranking, 5)})
	if done {
		return res
	}

	ref := &referrer{source: p.source, logger: p.logger, via: c.Via}
	if p.cfg.ApplyOnlyToHTML {
		if res, gated := ref.htmlGate(ctx, ranking, pr.uri); gated {
			return res
		}
	}

	detection := ref.detect(ctx, p.detector)
	if p.cfg.OnlyReliable && !detection.Reliable {
		p.logger.Debug("language detection unreliable", zap.String("via", pr.via), zap.String("uri", pr.uri))
		return Result{Cost: band(ranking, 2), Kind: Unscorable, Reason: ReasonUnreliableLanguage}
	}

	coverage, found := p.coverage(detection)
	if !found {
		return Result{Cost: band(ranking, 2), Kind: Unscorable, Reason: ReasonLanguageAbsent}
	}
	if !authority.SameDomain(c.URI, c.Via) {
		return crossDomain(p.cfg.ExploitSameDomain, band(ranking, 2))
	}

	similarity := math.Min(100, coverage+p.cfg.SameDomainReward)
	cost := invert(similarity)
	p.logger.Debug("scored by language coverage",
		zap.Int("cost", cost),
		zap.Float64("similarity", similarity),
		zap.String("via", pr.via),
		zap.String("uri", pr.uri),
	)
	return Result{Cost: cost, Kind: Scored, Reason: ReasonCoverage, Similarity: similarity}
}

// coverage returns the coverage percentage of the first preferred language.
func (p *LanguagePreference) coverage(d crawler.Detection) (float64, bool) {
	for i, lang := range d.Languages {
		if !p.preferred(lang.Code) {
			continue
		}
		if p.cfg.UseOnlyMainLanguage && i != 0 {
			return 0, false
		}
		if p.cfg.UseCoveredText {
			return lang.Coverage * 100, true
		}
		return 100, true
	}
	return 0, false
}

func (p *LanguagePreference) preferred(code string) bool {
	for _, want := range p.cfg.Preferred {
		if want == code {
			return true
		}
	}
	return false
}
