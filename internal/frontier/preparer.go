package frontier

import (
	"context"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/cost"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
	"github.com/JakeFAU/adaptive-frontier/internal/precedence"
)

// Preparer stages a candidate for Receive: cost first, then precedence.
type Preparer struct {
	Cost       cost.Policy
	Precedence precedence.Policy
}

// NewPreparer pairs a cost policy with a precedence policy. A nil
// precedence policy defaults to CostAndReset with a final cost of 1.
func NewPreparer(c cost.Policy, p precedence.Policy) *Preparer {
	if p == nil {
		p = precedence.NewCostAndReset(precedence.DefaultFinalCost)
	}
	return &Preparer{Cost: c, Precedence: p}
}

// Prepare fills a missing class key, assesses c and assigns its precedence.
func (p *Preparer) Prepare(ctx context.Context, c *crawler.Candidate) cost.Result {
	if c.ClassKey == "" {
		c.ClassKey = authority.ClassKey(c.URI)
	}
	res := p.Cost.Assess(ctx, c)
	metrics.ObserveCost(p.Cost.Name(), res.Kind.String(), res.Cost)
	c.HolderCost = res.Cost
	p.Precedence.Scheduled(c)
	return res
}
