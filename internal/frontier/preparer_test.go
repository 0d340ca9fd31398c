package frontier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/cost"
	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/precedence"
	"github.com/JakeFAU/adaptive-frontier/internal/storage/memory"
)

func TestPreparerRunsCostThenPrecedence(t *testing.T) {
	t.Parallel()

	p := NewPreparer(cost.NewDomainOnly(cost.DomainOnlyConfig{ExploitSameDomain: true, CrossDomainCost: 50}, nil), nil)

	c := &crawler.Candidate{URI: "http://b.other/page", Via: "http://a.example/page1", HolderCost: 7}
	res := p.Prepare(context.Background(), c)
	require.Equal(t, 50, res.Cost)
	require.Equal(t, 50, c.Precedence)
	require.Equal(t, precedence.DefaultFinalCost, c.HolderCost)
	require.Equal(t, "b.other", c.ClassKey)

	same := &crawler.Candidate{URI: "http://a.example/page2", Via: "http://a.example/page1", ClassKey: "custom"}
	p.Prepare(context.Background(), same)
	require.Equal(t, 1, same.Precedence)
	require.Equal(t, "custom", same.ClassKey)
}

func TestPreparedCandidatesFlowIntoFrontier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFrontier(t, memory.NewPendingStore())
	p := NewPreparer(cost.NewDomainOnly(cost.DomainOnlyConfig{ExploitSameDomain: true}, nil), precedence.NewCostAndReset(3))

	seed := &crawler.Candidate{URI: "http://a.example/", Seed: true}
	p.Prepare(ctx, seed)
	require.Equal(t, OutcomeEnqueued, f.Receive(ctx, seed).Outcome)

	child := &crawler.Candidate{URI: "http://a.example/x", Via: "http://a.example/"}
	p.Prepare(ctx, child)
	require.Equal(t, 3, child.HolderCost)
	require.Equal(t, OutcomeEnqueued, f.Receive(ctx, child).Outcome)

	first, err := f.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "http://a.example/", first.URI)
}
