// Package precedence turns a staged cost into the ordering key of a work
// queue at the moment a candidate is scheduled.
package precedence

import "github.com/JakeFAU/adaptive-frontier/internal/crawler"

// DefaultFinalCost is the holder cost left behind after scheduling.
const DefaultFinalCost = crawler.DefaultHolderCost

// Policy assigns the precedence of a candidate about to be queued. It must
// run after a cost policy staged HolderCost.
type Policy interface {
	Scheduled(c *crawler.Candidate)
}

// CostAndReset copies HolderCost into Precedence and resets HolderCost to
// FinalCost.
type CostAndReset struct {
	FinalCost int
}

// NewCostAndReset returns the policy, defaulting finalCost to 1.
func NewCostAndReset(finalCost int) CostAndReset {
	if finalCost <= 0 {
		finalCost = DefaultFinalCost
	}
	return CostAndReset{FinalCost: finalCost}
}

// Scheduled implements Policy.
func (p CostAndReset) Scheduled(c *crawler.Candidate) {
	if c == nil {
		return
	}
	final := p.FinalCost
	if final <= 0 {
		final = DefaultFinalCost
	}
	c.Precedence = c.HolderCost
	c.HolderCost = final
}
