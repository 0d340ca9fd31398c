// Package scope decides which discovered outlinks are worth scheduling.
// Rules run in order and the last rule with an opinion wins.
package scope

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// Decision is a rule verdict.
type Decision int

// Rule verdicts. Pass means the rule has no opinion on the candidate.
const (
	Pass Decision = iota
	Accept
	Reject
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "pass"
	}
}

// ParseDecision maps "accept" and "reject" onto a Decision.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accept":
		return Accept, nil
	case "reject":
		return Reject, nil
	default:
		return Pass, fmt.Errorf("unknown scope decision %q", s)
	}
}

// Rule gives a verdict on one candidate.
type Rule interface {
	Name() string
	Decide(ctx context.Context, c *crawler.Candidate) Decision
}

// Sequence applies rules in order.
type Sequence struct {
	rules    []Rule
	fallback Decision
	logger   *zap.Logger
}

// NewSequence builds a rule sequence. Candidates no rule has an opinion on
// get fallback; Pass is treated as Accept.
func NewSequence(fallback Decision, logger *zap.Logger, rules ...Rule) *Sequence {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == Pass {
		fallback = Accept
	}
	return &Sequence{rules: rules, fallback: fallback, logger: logger.Named("scope")}
}

// Decide returns the verdict of the last rule that did not pass.
func (s *Sequence) Decide(ctx context.Context, c *crawler.Candidate) Decision {
	verdict := s.fallback
	for _, r := range s.rules {
		if d := r.Decide(ctx, c); d != Pass {
			verdict = d
			s.logger.Debug("scope rule matched",
				zap.String("rule", r.Name()),
				zap.String("decision", d.String()),
				zap.String("uri", c.URI),
			)
		}
	}
	return verdict
}

// Allowed reports whether c ends up accepted.
func (s *Sequence) Allowed(ctx context.Context, c *crawler.Candidate) bool {
	return s.Decide(ctx, c) == Accept
}

// Len returns the number of configured rules.
func (s *Sequence) Len() int {
	return len(s.rules)
}
