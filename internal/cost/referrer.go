package cost

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/langdetect"
)

// referrer lazily replays the referrer page of a candidate.
type referrer struct {
	source  crawler.ContentSource
	logger  *zap.Logger
	via     string
	loaded  bool
	content crawler.Content
	err     error
}

func (r *referrer) load(ctx context.Context) (crawler.Content, error) {
	if r.loaded {
		return r.content, r.err
	}
	r.loaded = true
	if r.source == nil {
		r.err = crawler.ErrContentNotFound
		return r.content, r.err
	}
	r.content, r.err = r.source.Content(ctx, r.via)
	if r.err != nil {
		r.logger.Warn("referrer content unavailable", zap.String("via", r.via), zap.Error(r.err))
	}
	return r.content, r.err
}

// htmlGate reports the fixed cost for a referrer that is not HTML, or false
// when the referrer may be scored.
func (r *referrer) htmlGate(ctx context.Context, ranking bool, uri string) (Result, bool) {
	content, err := r.load(ctx)
	if err != nil {
		return Result{Cost: band(ranking, 3), Kind: Unscorable, Reason: ReasonContentUnavailable}, true
	}
	if !langdetect.IsHTML(content.ContentType) {
		r.logger.Debug("content type is not html",
			zap.String("via", r.via),
			zap.String("uri", uri),
			zap.String("content_type", content.ContentType),
		)
		return Result{Cost: band(ranking, 3), Kind: Unscorable, Reason: ReasonNotHTML}, true
	}
	return Result{}, false
}

// detect runs language detection on the referrer text. Missing content is
// treated as empty text.
func (r *referrer) detect(ctx context.Context, detector crawler.LanguageDetector) crawler.Detection {
	content, err := r.load(ctx)
	if err != nil {
		content = crawler.Content{}
	}
	if detector == nil {
		return crawler.Detection{}
	}
	return detector.Detect(langdetect.ContentText(content))
}
