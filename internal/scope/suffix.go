package scope

import (
	"context"
	"strings"

	"github.com/JakeFAU/adaptive-frontier/internal/authority"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// CommonSuffix matches candidates whose host ends with Suffix, or, with
// Different set, whose host does not.
type CommonSuffix struct {
	Suffix    string
	Different bool
	// Decision is returned on a match.
	Decision Decision
}

// Name implements Rule.
func (r CommonSuffix) Name() string { return "common_suffix" }

// Decide implements Rule. An empty suffix and non-http candidates pass.
func (r CommonSuffix) Decide(_ context.Context, c *crawler.Candidate) Decision {
	if c == nil || r.Suffix == "" || !authority.IsHTTP(c.URI) {
		return Pass
	}
	matches := strings.HasSuffix(authority.Host(c.URI), strings.ToLower(r.Suffix))
	if matches != r.Different {
		return r.Decision
	}
	return Pass
}
