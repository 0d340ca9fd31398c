package cost

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// Defaults for DomainOnly.
const (
	DefaultCrossDomainCost = 50
	DefaultBadSchemeCost   = 150
)

// DomainOnlyConfig configures the baseline policy.
type DomainOnlyConfig struct {
	// ExploitSameDomain makes cross-domain hops cost CrossDomainCost instead
	// of 1.
	ExploitSameDomain bool
	CrossDomainCost   int
	BadSchemeCost     int
}

// DomainOnly favors links within the referrer's registrable domain only
// when exploitation is enabled; otherwise every http link costs 1.
type DomainOnly struct {
	cfg    DomainOnlyConfig
	logger *zap.Logger
}

// NewDomainOnly builds the baseline policy, filling zero values with defaults.
func NewDomainOnly(cfg DomainOnlyConfig, logger *zap.Logger) *DomainOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CrossDomainCost <= 0 {
		cfg.CrossDomainCost = DefaultCrossDomainCost
	}
	if cfg.BadSchemeCost <= 0 {
		cfg.BadSchemeCost = DefaultBadSchemeCost
	}
	return &DomainOnly{cfg: cfg, logger: logger.Named("cost.domain")}
}

// Name implements Policy.
func (p *DomainOnly) Name() string { return "domain" }

// Assess implements Policy.
func (p *DomainOnly) Assess(_ context.Context, c *crawler.Candidate) Result {
	if res, _, done := ladder(p.logger, c, ladderCosts{badScheme: p.cfg.BadSchemeCost}); done {
		return res
	}
	if authority.SameDomain(c.URI, c.Via) {
		return Result{Cost: MinCost, Kind: Scored, Reason: ReasonSameDomain}
	}
	p.logger.Debug("different domain", zap.String("via", c.Via), zap.String("uri", c.URI))
	return crossDomain(p.cfg.ExploitSameDomain, p.cfg.CrossDomainCost)
}
