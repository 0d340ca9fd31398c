package cost

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
)

// DefaultThreshold is the similarity a classification needs to cost 1.
const DefaultThreshold = 50.0

// Scorer returns the relevance of a candidate given its referrer in
// [0, 100]. *remote.Classifier implements it.
type Scorer interface {
	Similarity(ctx context.Context, req remote.ScoreRequest) (float64, error)
}

// ClassifierConfig configures ExternalClassifier.
type ClassifierConfig struct {
	// Ranking inverts the similarity into [1, 101] instead of thresholding.
	Ranking         bool
	Threshold       float64
	ApplyOnlyToHTML bool
	// UseLanguages requires the referrer to be written in Lang1 or Lang2 and
	// sends the language pair to the classifier.
	UseLanguages      bool
	OnlyReliable      bool
	Lang1             string
	Lang2             string
	ExploitSameDomain bool
}

// DefaultClassifierConfig mirrors the documented defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Threshold:       DefaultThreshold,
		ApplyOnlyToHTML: true,
		UseLanguages:    true,
		OnlyReliable:    true,
	}
}

// Validate checks the language pair UseLanguages depends on.
func (c ClassifierConfig) Validate() error {
	if !c.UseLanguages {
		return nil
	}
	if !langCode(c.Lang1) || !langCode(c.Lang2) || c.Lang1 == c.Lang2 {
		return fmt.Errorf("classifier language pair %q/%q must be two distinct two-letter codes: %w", c.Lang1, c.Lang2, ErrConfig)
	}
	return nil
}

func langCode(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'z' && s[1] >= 'a' && s[1] <= 'z'
}

// ExternalClassifier asks a remote model how relevant a same-domain link is.
type ExternalClassifier struct {
	cfg      ClassifierConfig
	source   crawler.ContentSource
	detector crawler.LanguageDetector
	scorer   Scorer
	logger   *zap.Logger
}

// NewExternalClassifier builds the classifier policy.
func NewExternalClassifier(cfg ClassifierConfig, source crawler.ContentSource, detector crawler.LanguageDetector, scorer Scorer, logger *zap.Logger) *ExternalClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExternalClassifier{
		cfg:      cfg,
		source:   source,
		detector: detector,
		scorer:   scorer,
		logger:   logger.Named("cost.classifier"),
	}
}

// Name implements Policy.
func (p *ExternalClassifier) Name() string { return "classifier" }

// Assess implements Policy.
func (p *ExternalClassifier) Assess(ctx context.Context, c *crawler.Candidate) Result {
	ranking := p.cfg.Ranking
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

	var srcLang, trgLang string
	if p.cfg.UseLanguages {
		if err := p.cfg.Validate(); err != nil {
			p.logger.Error("classifier cannot score", zap.String("uri", pr.uri), zap.Error(err))
			return Result{Cost: band(ranking, 2), Kind: Unscorable, Reason: ReasonMisconfigured, Err: err}
		}
		var ok bool
		srcLang, trgLang, ok = p.languagePair(ctx, ref)
		if !ok {
			return Result{Cost: band(ranking, 2), Kind: Unscorable, Reason: ReasonLanguageAbsent}
		}
	}

	if !authority.SameDomain(c.URI, c.Via) {
		return crossDomain(p.cfg.ExploitSameDomain, band(ranking, 2))
	}

	req := remote.ScoreRequest{Source: pr.via, Target: pr.uri, SourceLang: srcLang, TargetLang: trgLang}
	similarity, err := p.scorer.Similarity(ctx, req)
	kind := Scored
	if err != nil {
		p.logger.Warn("classifier unavailable, assuming worst similarity",
			zap.String("via", pr.via),
			zap.String("uri", pr.uri),
			zap.Error(err),
		)
		similarity = 0
		kind = ServiceUnavailable
	}

	result := Result{Kind: kind, Similarity: similarity}
	if ranking {
		result.Cost = invert(similarity)
		result.Reason = ReasonRanked
	} else {
		result.Cost = 2
		if similarity >= p.threshold() {
			result.Cost = 1
		}
		result.Reason = ReasonClassified
	}
	if kind == ServiceUnavailable {
		result.Reason = ReasonClassifierUnavailable
	}
	p.logger.Debug("scored by classifier",
		zap.Int("cost", result.Cost),
		zap.Float64("similarity", similarity),
		zap.String("via", pr.via),
		zap.String("uri", pr.uri),
		zap.String("src_lang", srcLang),
		zap.String("trg_lang", trgLang),
	)
	return result
}

func (p *ExternalClassifier) threshold() float64 {
	if p.cfg.Threshold <= 0 {
		return DefaultThreshold
	}
	return p.cfg.Threshold
}

// languagePair orders the configured pair so the referrer's language comes
// first. It reports false when the referrer is in neither language.
func (p *ExternalClassifier) languagePair(ctx context.Context, ref *referrer) (string, string, bool) {
	detection := ref.detect(ctx, p.detector)
	if p.cfg.OnlyReliable && !detection.Reliable {
		return "", "", false
	}
	switch detection.Best() {
	case p.cfg.Lang1:
		return p.cfg.Lang1, p.cfg.Lang2, true
	case p.cfg.Lang2:
		return p.cfg.Lang2, p.cfg.Lang1, true
	default:
		return "", "", false
	}
}
