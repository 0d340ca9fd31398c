// Package cost assigns fetch costs to crawl candidates. Lower costs are
// fetched sooner; 1 means "fetch immediately".
package cost

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// MinCost is the best cost any policy assigns.
const MinCost = 1

// ErrConfig reports a policy configuration that cannot score candidates.
var ErrConfig = errors.New("invalid cost policy configuration")

// Kind classifies how a cost was obtained.
type Kind int

const (
	// Scored means a heuristic produced the cost.
	Scored Kind = iota
	// Unscorable means the candidate could not be judged yet and received a
	// fixed cost.
	Unscorable
	// ServiceUnavailable means an external service failed and the worst
	// similarity was assumed.
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case Scored:
		return "scored"
	case Unscorable:
		return "unscorable"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// Reasons attached to results.
const (
	ReasonInfrastructure         = "infrastructure"
	ReasonSeed                   = "seed"
	ReasonReferrerInfrastructure = "referrer_infrastructure"
	ReasonSelfLink               = "self_link"
	ReasonBadScheme              = "bad_scheme"
	ReasonNotHTML                = "not_html"
	ReasonContentUnavailable     = "content_unavailable"
	ReasonUnreliableLanguage     = "unreliable_language"
	ReasonLanguageAbsent         = "language_absent"
	ReasonCrossDomainExplore     = "cross_domain_explore"
	ReasonCrossDomainExploit     = "cross_domain_exploit"
	ReasonSameDomain             = "same_domain"
	ReasonCoverage               = "coverage"
	ReasonClassified             = "classified"
	ReasonRanked                 = "ranked"
	ReasonClassifierUnavailable  = "classifier_unavailable"
	ReasonMisconfigured          = "misconfigured"
)

// Result is the outcome of assessing one candidate.
type Result struct {
	Cost       int
	Kind       Kind
	Reason     string
	Similarity float64
	// Err is set when the policy itself is misconfigured; it wraps ErrConfig.
	Err error
}

// Policy scores candidates. Implementations never fail: problems degrade to
// a documented fixed cost.
type Policy interface {
	Name() string
	Assess(ctx context.Context, c *crawler.Candidate) Result
}

// CostOf returns only the cost of p's assessment of c.
func CostOf(ctx context.Context, p Policy, c *crawler.Candidate) int {
	return p.Assess(ctx, c).Cost
}

// band moves a base cost into the 100+ range used by ranking policies.
func band(ranking bool, base int) int {
	if ranking {
		return base + 100
	}
	return base
}

// invert maps a similarity in [0, 100] to a cost in [1, 101].
func invert(similarity float64) int {
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 100 {
		similarity = 100
	}
	return 100 - int(similarity+0.5) + 1
}

// ladderCosts holds the fixed costs of the shared decision ladder.
type ladderCosts struct {
	// selfLink is 0 when the variant does not special-case self links.
	selfLink  int
	badScheme int
}

// pair is the trimmed candidate/referrer URIs under assessment.
type pair struct {
	uri string
	via string
}

// ladder applies the early exits every variant shares. It reports false
// when the candidate needs the variant's own heuristics.
func ladder(logger *zap.Logger, c *crawler.Candidate, costs ladderCosts) (Result, pair, bool) {
	p := pair{uri: authority.TrimTrailingSlashes(c.URI)}
	if authority.IsInfrastructure(p.uri) {
		return Result{Cost: MinCost, Kind: Scored, Reason: ReasonInfrastructure}, p, true
	}
	if c.Via == "" {
		logger.Debug("via is empty", zap.String("uri", p.uri))
		return Result{Cost: MinCost, Kind: Scored, Reason: ReasonSeed}, p, true
	}
	p.via = authority.TrimTrailingSlashes(c.Via)
	if authority.IsInfrastructure(p.via) {
		return Result{Cost: MinCost, Kind: Scored, Reason: ReasonReferrerInfrastructure}, p, true
	}
	if costs.selfLink > 0 && p.via == p.uri {
		return Result{Cost: costs.selfLink, Kind: Unscorable, Reason: ReasonSelfLink}, p, true
	}
	if !authority.IsHTTP(p.uri) || !authority.IsHTTP(p.via) {
		logger.Warn("unexpected uri scheme", zap.String("via", p.via), zap.String("uri", p.uri))
		return Result{Cost: costs.badScheme, Kind: Unscorable, Reason: ReasonBadScheme}, p, true
	}
	return Result{}, p, false
}

// crossDomain resolves the exploration/exploitation knob for a hop between
// different registrable domains.
func crossDomain(exploit bool, exploitCost int) Result {
	if exploit {
		return Result{Cost: exploitCost, Kind: Unscorable, Reason: ReasonCrossDomainExploit}
	}
	return Result{Cost: MinCost, Kind: Unscorable, Reason: ReasonCrossDomainExplore}
}
