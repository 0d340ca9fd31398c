package scope

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/langdetect"
)

// LanguageSource detects the language of a fetched page.
type LanguageSource interface {
	DetectURI(ctx context.Context, uri string) (crawler.Content, crawler.Detection, error)
}

// LanguageConfig configures LanguagePreference.
type LanguageConfig struct {
	// Languages lists the ISO 639-1 codes to look for.
	Languages []string
	// CheckAbsence matches when the best language is not listed.
	CheckAbsence bool
	OnlyReliable bool
	// ApplyOnlyToHTML passes candidates found on non-HTML pages.
	ApplyOnlyToHTML bool
	SkipSeeds       bool
	Decision        Decision
}

// LanguagePreference matches candidates by the best detected language of
// the page they were found on.
type LanguagePreference struct {
	cfg    LanguageConfig
	source LanguageSource
	logger *zap.Logger
}

// NewLanguagePreference builds the rule.
func NewLanguagePreference(cfg LanguageConfig, source LanguageSource, logger *zap.Logger) *LanguagePreference {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LanguagePreference{cfg: cfg, source: source, logger: logger.Named("scope.language")}
}

// Name implements Rule.
func (r *LanguagePreference) Name() string { return "language_preference" }

// Decide implements Rule.
func (r *LanguagePreference) Decide(ctx context.Context, c *crawler.Candidate) Decision {
	if c == nil || len(r.cfg.Languages) == 0 || r.source == nil {
		return Pass
	}
	if r.cfg.SkipSeeds && c.Seed {
		return Pass
	}
	if !authority.IsHTTP(c.URI) || c.Via == "" {
		return Pass
	}

	content, det, err := r.source.DetectURI(ctx, c.Via)
	if err != nil {
		r.logger.Warn("referrer language unavailable", zap.String("via", c.Via), zap.String("uri", c.URI), zap.Error(err))
		return Pass
	}
	if r.cfg.ApplyOnlyToHTML && !langdetect.IsHTML(content.ContentType) {
		r.logger.Debug("content type is not html", zap.String("via", c.Via), zap.String("content_type", content.ContentType))
		return Pass
	}
	if r.cfg.OnlyReliable && !det.Reliable {
		r.logger.Debug("detection unreliable", zap.String("via", c.Via), zap.String("lang", det.Best()))
		return Pass
	}

	listed := false
	best := det.Best()
	for _, code := range r.cfg.Languages {
		if code == best {
			listed = true
			break
		}
	}
	if listed != r.cfg.CheckAbsence {
		return r.cfg.Decision
	}
	return Pass
}
