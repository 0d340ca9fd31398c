package cost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
)

type fakeSource map[string]crawler.Content

func (f fakeSource) Content(_ context.Context, uri string) (crawler.Content, error) {
	c, ok := f[uri]
	if !ok {
		return crawler.Content{}, crawler.ErrContentNotFound
	}
	return c, nil
}

type fakeDetector struct {
	detection crawler.Detection
	calls     int
}

func (f *fakeDetector) Detect(string) crawler.Detection {
	f.calls++
	return f.detection
}

type fakeScorer struct {
	similarity float64
	err        error
	requests   []remote.ScoreRequest
}

func (f *fakeScorer) Similarity(_ context.Context, req remote.ScoreRequest) (float64, error) {
	f.requests = append(f.requests, req)
	return f.similarity, f.err
}

const (
	page1 = "http://a.example/page1"
	page2 = "http://a.example/page2"
	other = "http://b.other/page"
)

func htmlSource() fakeSource {
	return fakeSource{
		page1: {URI: page1, ContentType: "text/html; charset=utf-8", Body: []byte("<p>hello</p>")},
	}
}

func english(coverage float64) *fakeDetector {
	return &fakeDetector{detection: crawler.Detection{
		Reliable:  true,
		Languages: []crawler.DetectedLanguage{{Code: "en", Score: 0.9, Coverage: coverage}},
	}}
}

func allPolicies() []Policy {
	return []Policy{
		NewDomainOnly(DomainOnlyConfig{}, nil),
		NewDomainOnly(DomainOnlyConfig{ExploitSameDomain: true}, nil),
		NewLanguagePreference(DefaultLanguageConfig(), htmlSource(), english(1), nil),
		NewExternalClassifier(ClassifierConfig{Lang1: "en", Lang2: "fr", UseLanguages: true}, htmlSource(), english(1), &fakeScorer{}, nil),
		NewExternalClassifier(ClassifierConfig{Ranking: true}, htmlSource(), english(1), &fakeScorer{err: errors.New("down")}, nil),
	}
}

func TestInfrastructureAlwaysCostsOne(t *testing.T) {
	t.Parallel()

	candidates := []*crawler.Candidate{
		{URI: "http://a.example/robots.txt"},
		{URI: "http://a.example/robots.txt", Via: other},
		{URI: "http://c.elsewhere/robots.txt/", Via: page1},
		{URI: "dns:a.example", Via: page1},
	}
	for _, p := range allPolicies() {
		for _, c := range candidates {
			res := p.Assess(context.Background(), c)
			require.Equal(t, 1, res.Cost, "%s %s", p.Name(), c.URI)
			require.Equal(t, ReasonInfrastructure, res.Reason)
		}
	}
}

func TestSeedCostsOne(t *testing.T) {
	t.Parallel()

	for _, p := range allPolicies() {
		res := p.Assess(context.Background(), &crawler.Candidate{URI: page2})
		require.Equal(t, 1, res.Cost, p.Name())
		require.Equal(t, ReasonSeed, res.Reason)
	}
}

func TestReferrerInfrastructureCostsOne(t *testing.T) {
	t.Parallel()

	for _, p := range allPolicies() {
		require.Equal(t, 1, CostOf(context.Background(), p, &crawler.Candidate{URI: page2, Via: "dns:a.example"}), p.Name())
		require.Equal(t, 1, CostOf(context.Background(), p, &crawler.Candidate{URI: page2, Via: "http://a.example/robots.txt"}), p.Name())
	}
}

func TestDomainOnlyScenarios(t *testing.T) {
	t.Parallel()

	explore := NewDomainOnly(DomainOnlyConfig{}, nil)
	exploit := NewDomainOnly(DomainOnlyConfig{ExploitSameDomain: true}, nil)
	ctx := context.Background()

	same := &crawler.Candidate{URI: page2, Via: page1}
	cross := &crawler.Candidate{URI: other, Via: page1}

	require.Equal(t, 1, CostOf(ctx, explore, same))
	require.Equal(t, 1, CostOf(ctx, exploit, same))
	require.Equal(t, 1, CostOf(ctx, explore, cross))
	require.Equal(t, ReasonCrossDomainExplore, explore.Assess(ctx, cross).Reason)
	require.Equal(t, DefaultCrossDomainCost, CostOf(ctx, exploit, cross))
	require.Greater(t, CostOf(ctx, exploit, cross), CostOf(ctx, explore, cross))

	custom := NewDomainOnly(DomainOnlyConfig{ExploitSameDomain: true, CrossDomainCost: 7}, nil)
	require.Equal(t, 7, CostOf(ctx, custom, cross))
}

func TestBadSchemePenalty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &crawler.Candidate{URI: "ftp://a.example/file", Via: page1}

	require.Equal(t, 150, CostOf(ctx, NewDomainOnly(DomainOnlyConfig{}, nil), c))
	require.Equal(t, 5, CostOf(ctx, NewLanguagePreference(DefaultLanguageConfig(), htmlSource(), english(1), nil), c))
	ranked := NewExternalClassifier(ClassifierConfig{Ranking: true}, htmlSource(), nil, &fakeScorer{}, nil)
	res := ranked.Assess(ctx, c)
	require.Equal(t, 105, res.Cost)
	require.Equal(t, Unscorable, res.Kind)
}

func TestSelfLink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &crawler.Candidate{URI: page1 + "/", Via: page1}

	lang := NewLanguagePreference(DefaultLanguageConfig(), htmlSource(), english(1), nil)
	require.Equal(t, 4, CostOf(ctx, lang, c))
	cfg := DefaultLanguageConfig()
	cfg.UseCoveredText = true
	require.Equal(t, 104, CostOf(ctx, NewLanguagePreference(cfg, htmlSource(), english(1), nil), c))
	require.Equal(t, 104, CostOf(ctx, NewExternalClassifier(ClassifierConfig{Ranking: true}, htmlSource(), nil, &fakeScorer{}, nil), c))
	require.Equal(t, 1, CostOf(ctx, NewDomainOnly(DomainOnlyConfig{}, nil), c))
}

func TestLanguagePreference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	same := &crawler.Candidate{URI: page2, Via: page1}
	cross := &crawler.Candidate{URI: other, Via: page1}

	covered := DefaultLanguageConfig()
	covered.UseCoveredText = true

	tests := []struct {
		name     string
		cfg      LanguageConfig
		source   fakeSource
		detector *fakeDetector
		c        *crawler.Candidate
		want     int
		reason   string
	}{
		{name: "full coverage without covered text", cfg: DefaultLanguageConfig(), source: htmlSource(),
			detector: english(0.4), c: same, want: 1, reason: ReasonCoverage},
		{name: "coverage inverted", cfg: covered, source: htmlSource(),
			detector: english(0.8), c: same, want: 21, reason: ReasonCoverage},
		{name: "same domain reward", cfg: func() LanguageConfig { c := covered; c.SameDomainReward = 10; return c }(),
			source: htmlSource(), detector: english(0.8), c: same, want: 11, reason: ReasonCoverage},
		{name: "reward clamps at 100", cfg: func() LanguageConfig { c := covered; c.SameDomainReward = 50; return c }(),
			source: htmlSource(), detector: english(0.8), c: same, want: 1, reason: ReasonCoverage},
		{name: "not html", cfg: DefaultLanguageConfig(),
			source: fakeSource{page1: {ContentType: "application/pdf"}}, detector: english(1), c: same, want: 3, reason: ReasonNotHTML},
		{name: "not html ranking band", cfg: covered,
			source: fakeSource{page1: {ContentType: "image/png"}}, detector: english(1), c: same, want: 103, reason: ReasonNotHTML},
		{name: "content missing", cfg: DefaultLanguageConfig(), source: fakeSource{},
			detector: english(1), c: same, want: 3, reason: ReasonContentUnavailable},
		{name: "unreliable", cfg: DefaultLanguageConfig(), source: htmlSource(),
			detector: &fakeDetector{detection: crawler.Detection{Languages: []crawler.DetectedLanguage{{Code: "en", Coverage: 1}}}},
			c:        same, want: 2, reason: ReasonUnreliableLanguage},
		{name: "language absent", cfg: covered, source: htmlSource(),
			detector: &fakeDetector{detection: crawler.Detection{Reliable: true, Languages: []crawler.DetectedLanguage{{Code: "de", Coverage: 1}}}},
			c:        same, want: 102, reason: ReasonLanguageAbsent},
		{name: "preferred only as second language", cfg: DefaultLanguageConfig(), source: htmlSource(),
			detector: &fakeDetector{detection: crawler.Detection{Reliable: true, Languages: []crawler.DetectedLanguage{
				{Code: "de", Coverage: 0.6}, {Code: "fr", Coverage: 0.4},
			}}},
			c: same, want: 2, reason: ReasonLanguageAbsent},
		{name: "second language allowed", cfg: func() LanguageConfig { c := covered; c.UseOnlyMainLanguage = false; return c }(),
			source: htmlSource(),
			detector: &fakeDetector{detection: crawler.Detection{Reliable: true, Languages: []crawler.DetectedLanguage{
				{Code: "de", Coverage: 0.6}, {Code: "fr", Coverage: 0.4},
			}}},
			c: same, want: 61, reason: ReasonCoverage},
		{name: "cross domain explores", cfg: DefaultLanguageConfig(), source: htmlSource(),
			detector: english(1), c: cross, want: 1, reason: ReasonCrossDomainExplore},
		{name: "cross domain exploits", cfg: func() LanguageConfig { c := covered; c.ExploitSameDomain = true; return c }(),
			source: htmlSource(), detector: english(1), c: cross, want: 102, reason: ReasonCrossDomainExploit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewLanguagePreference(tt.cfg, tt.source, tt.detector, nil)
			res := p.Assess(ctx, tt.c)
			require.Equal(t, tt.want, res.Cost)
			require.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestExternalClassifier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	same := &crawler.Candidate{URI: page2, Via: page1}

	t.Run("classification above threshold", func(t *testing.T) {
		t.Parallel()
		scorer := &fakeScorer{similarity: 87}
		cfg := DefaultClassifierConfig()
		cfg.Lang1, cfg.Lang2 = "fr", "en"
		p := NewExternalClassifier(cfg, htmlSource(), english(1), scorer, nil)
		res := p.Assess(ctx, same)
		require.Equal(t, 1, res.Cost)
		require.Equal(t, Scored, res.Kind)
		require.Len(t, scorer.requests, 1)
		require.Equal(t, remote.ScoreRequest{Source: page1, Target: page2, SourceLang: "en", TargetLang: "fr"}, scorer.requests[0])
	})

	t.Run("classification below threshold", func(t *testing.T) {
		t.Parallel()
		p := NewExternalClassifier(ClassifierConfig{Threshold: 50}, htmlSource(), nil, &fakeScorer{similarity: 49.9}, nil)
		require.Equal(t, 2, CostOf(ctx, p, same))
	})

	t.Run("ranking", func(t *testing.T) {
		t.Parallel()
		p := NewExternalClassifier(ClassifierConfig{Ranking: true}, htmlSource(), nil, &fakeScorer{similarity: 87}, nil)
		res := p.Assess(ctx, same)
		require.Equal(t, 14, res.Cost)
		require.Equal(t, ReasonRanked, res.Reason)
	})

	t.Run("service failure is worst similarity", func(t *testing.T) {
		t.Parallel()
		ranked := NewExternalClassifier(ClassifierConfig{Ranking: true}, htmlSource(), nil, &fakeScorer{similarity: 99, err: errors.New("timeout")}, nil)
		res := ranked.Assess(ctx, same)
		require.Equal(t, 101, res.Cost)
		require.Equal(t, ServiceUnavailable, res.Kind)
		require.Zero(t, res.Similarity)

		classified := NewExternalClassifier(ClassifierConfig{}, htmlSource(), nil, &fakeScorer{err: errors.New("timeout")}, nil)
		res = classified.Assess(ctx, same)
		require.Equal(t, 2, res.Cost)
		require.Equal(t, ReasonClassifierUnavailable, res.Reason)
	})

	t.Run("language outside pair", func(t *testing.T) {
		t.Parallel()
		scorer := &fakeScorer{similarity: 90}
		cfg := ClassifierConfig{UseLanguages: true, Lang1: "de", Lang2: "fr", Ranking: true}
		p := NewExternalClassifier(cfg, htmlSource(), english(1), scorer, nil)
		require.Equal(t, 102, CostOf(ctx, p, same))
		require.Empty(t, scorer.requests)
	})

	t.Run("missing language pair", func(t *testing.T) {
		t.Parallel()
		scorer := &fakeScorer{similarity: 90}
		p := NewExternalClassifier(ClassifierConfig{UseLanguages: true}, htmlSource(), english(1), scorer, nil)
		res := p.Assess(ctx, same)
		require.Equal(t, 2, res.Cost)
		require.Equal(t, ReasonMisconfigured, res.Reason)
		require.ErrorIs(t, res.Err, ErrConfig)
		require.Empty(t, scorer.requests)
	})

	t.Run("cross domain skips classifier", func(t *testing.T) {
		t.Parallel()
		scorer := &fakeScorer{similarity: 90}
		p := NewExternalClassifier(ClassifierConfig{}, htmlSource(), nil, scorer, nil)
		require.Equal(t, 1, CostOf(ctx, p, &crawler.Candidate{URI: other, Via: page1}))
		exploit := NewExternalClassifier(ClassifierConfig{ExploitSameDomain: true}, htmlSource(), nil, scorer, nil)
		require.Equal(t, 2, CostOf(ctx, exploit, &crawler.Candidate{URI: other, Via: page1}))
		require.Empty(t, scorer.requests)
	})
}

func TestClassifierConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     ClassifierConfig
		wantErr bool
	}{
		{name: "languages off", cfg: ClassifierConfig{}},
		{name: "pair set", cfg: ClassifierConfig{UseLanguages: true, Lang1: "en", Lang2: "is"}},
		{name: "pair missing", cfg: ClassifierConfig{UseLanguages: true}, wantErr: true},
		{name: "one language", cfg: ClassifierConfig{UseLanguages: true, Lang1: "en"}, wantErr: true},
		{name: "three letters", cfg: ClassifierConfig{UseLanguages: true, Lang1: "eng", Lang2: "fr"}, wantErr: true},
		{name: "upper case", cfg: ClassifierConfig{UseLanguages: true, Lang1: "EN", Lang2: "fr"}, wantErr: true},
		{name: "same language", cfg: ClassifierConfig{UseLanguages: true, Lang1: "fr", Lang2: "fr"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestNewSelectsVariant(t *testing.T) {
	t.Parallel()

	p, err := New(Settings{}, Deps{}, nil)
	require.NoError(t, err)
	require.Equal(t, PolicyDomain, p.Name())

	_, err = New(Settings{Policy: PolicyLanguage}, Deps{}, nil)
	require.Error(t, err)

	p, err = New(Settings{Policy: PolicyLanguage}, Deps{Detector: english(1)}, nil)
	require.NoError(t, err)
	require.Equal(t, PolicyLanguage, p.Name())

	p, err = New(Settings{Policy: PolicyClassifier}, Deps{Scorer: &fakeScorer{}}, nil)
	require.NoError(t, err)
	require.Equal(t, PolicyClassifier, p.Name())

	_, err = New(Settings{Policy: PolicyClassifier, Classifier: DefaultClassifierConfig()}, Deps{Scorer: &fakeScorer{}, Detector: english(1)}, nil)
	require.ErrorIs(t, err, ErrConfig)

	withPair := DefaultClassifierConfig()
	withPair.Lang1, withPair.Lang2 = "en", "is"
	p, err = New(Settings{Policy: PolicyClassifier, Classifier: withPair}, Deps{Scorer: &fakeScorer{}, Detector: english(1)}, nil)
	require.NoError(t, err)
	require.Equal(t, PolicyClassifier, p.Name())

	_, err = New(Settings{Policy: "bogus"}, Deps{}, nil)
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "scored", Scored.String())
	require.Equal(t, "unscorable", Unscorable.String())
	require.Equal(t, "service_unavailable", ServiceUnavailable.String())
	require.Equal(t, "unknown", Kind(42).String())
}
