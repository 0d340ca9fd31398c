package frontier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
	"github.com/JakeFAU/adaptive-frontier/internal/remote"
	"github.com/JakeFAU/adaptive-frontier/internal/storage/memory"
)

type fakeReorderer struct {
	mu       sync.Mutex
	requests []remote.ReorderRequest
	result   func(remote.ReorderRequest) (remote.ReorderResult, error)
}

func (f *fakeReorderer) Reorder(_ context.Context, req remote.ReorderRequest) (remote.ReorderResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.result(req)
}

func (f *fakeReorderer) Calls() []remote.ReorderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.ReorderRequest(nil), f.requests...)
}

type fakeLanguages struct{ code string }

func (f fakeLanguages) DetectURI(context.Context, string) (crawler.Content, crawler.Detection, error) {
	return crawler.Content{}, crawler.Detection{Reliable: true, Languages: []crawler.DetectedLanguage{{Code: f.code, Coverage: 1}}}, nil
}

type relearningFixture struct {
	r         *Relearning
	store     *memory.PendingStore
	events    *recordingEmitter
	reorderer *fakeReorderer
}

func newRelearningFixture(t *testing.T, result func(remote.ReorderRequest) (remote.ReorderResult, error)) *relearningFixture {
	t.Helper()
	store := memory.NewPendingStore()
	f, events := newTestFrontier(t, store)
	reorderer := &fakeReorderer{result: result}
	r, err := NewRelearning(f, RelearningConfig{
		LangPreference: "en",
		Reorderer:      reorderer,
		Languages:      fakeLanguages{code: "en"},
	})
	require.NoError(t, err)
	return &relearningFixture{r: r, store: store, events: events, reorderer: reorderer}
}

// fetchParent dispatches the seed and finishes it with outlinks.
func (fx *relearningFixture) fetchParent(t *testing.T, seed string, outlinks ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.r.Submit(ctx, &crawler.Candidate{URI: seed, Seed: true, Precedence: 1}))
	got, err := fx.r.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, seed, got.URI)
	got.Outlinks = outlinks
	require.NoError(t, fx.r.Finished(ctx, got))
}

func TestRelearningResequencesCompleteBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: req.Children[1], Filtered: req.Children}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1", "http://a.example/2", "http://b.other/")

	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))
	require.Equal(t, StateCollecting, fx.r.State())
	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/2", parent, 20)))
	require.Empty(t, fx.reorderer.Calls())
	require.Zero(t, fx.store.Len())

	// A child opening a new queue is enqueued at once and completes the batch.
	require.NoError(t, fx.r.Submit(ctx, cand("http://b.other/", parent, 5)))

	calls := fx.reorderer.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, parent, calls[0].Parent)
	require.Equal(t, "en", calls[0].ParentLang)
	require.Equal(t, []string{"http://a.example/1", "http://a.example/2"}, calls[0].Children)
	require.Equal(t, StateIdle, fx.r.State())

	one := pendingFor(t, fx.store, "http://a.example/1")
	require.Len(t, one, 1)
	require.Equal(t, 10, one[0].Precedence)
	two := pendingFor(t, fx.store, "http://a.example/2")
	require.Len(t, two, 1)
	require.Equal(t, 21, two[0].Precedence)
	require.Len(t, pendingFor(t, fx.store, "http://b.other/"), 1)

	batches := fx.events.Stage(progress.StageBatch)
	require.Len(t, batches, 1)
	require.Equal(t, batchOK, batches[0].Outcome)
	require.Equal(t, parent, batches[0].URL)
}

func TestRelearningDropsChildrenNotFiltered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: req.Children[0], Filtered: []string{}}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1", "http://a.example/2")

	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))
	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/2", parent, 20)))
	require.Len(t, fx.reorderer.Calls(), 1)
	require.Zero(t, fx.store.Len())
}

func TestRelearningEmptyBatchSkipsService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{}, errors.New("must not be called")
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://b.other/", "http://c.other/")

	require.NoError(t, fx.r.Submit(ctx, cand("http://b.other/", parent, 3)))
	require.NoError(t, fx.r.Submit(ctx, cand("http://c.other/", parent, 3)))
	require.Empty(t, fx.reorderer.Calls())
	require.Equal(t, 2, fx.store.Len())
	require.Equal(t, batchEmpty, fx.events.Stage(progress.StageBatch)[0].Outcome)
}

func TestRelearningRejectsFilteredNonMember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: req.Children[0], Filtered: []string{"http://evil.example/"}}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1")

	err := fx.r.Submit(ctx, cand("http://a.example/1", parent, 10))
	require.ErrorIs(t, err, ErrProtocol)
	require.Zero(t, fx.store.Len())
	require.Equal(t, StateIdle, fx.r.State())
}

func TestRelearningRejectsUnknownActionURI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: "http://evil.example/", Filtered: req.Children}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1")

	require.ErrorIs(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)), ErrProtocol)
}

func TestRelearningReferrerMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: req.Children[0], Filtered: req.Children}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1", "http://a.example/2")

	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))
	err := fx.r.Submit(ctx, cand("http://a.example/2", "http://a.example/elsewhere", 10))
	require.ErrorIs(t, err, ErrProtocol)
	require.Equal(t, StateIdle, fx.r.State())
	require.Empty(t, fx.reorderer.Calls())
	require.Equal(t, batchViolation, fx.events.Stage(progress.StageBatch)[0].Outcome)
}

func TestRelearningParentMustBeFinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, nil)
	require.NoError(t, fx.r.Submit(ctx, &crawler.Candidate{URI: "http://a.example/", Seed: true}))

	err := fx.r.Submit(ctx, cand("http://a.example/1", "http://a.example/unknown", 10))
	require.ErrorIs(t, err, ErrProtocol)
}

func TestRelearningRejectsExtraChildren(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, func(req remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{ActionURI: req.Children[0], Filtered: req.Children}, nil
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1")

	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))
	err := fx.r.Submit(ctx, cand("http://a.example/2", parent, 10))
	require.ErrorIs(t, err, ErrProtocol)
	require.Len(t, fx.reorderer.Calls(), 1)
}

func TestRelearningServiceFailureIsFatalForBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cause := errors.New("connection refused")
	fx := newRelearningFixture(t, func(remote.ReorderRequest) (remote.ReorderResult, error) {
		return remote.ReorderResult{}, cause
	})
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1")

	err := fx.r.Submit(ctx, cand("http://a.example/1", parent, 10))
	require.ErrorIs(t, err, ErrBatchFailed)
	require.ErrorIs(t, err, cause)
	require.Equal(t, StateIdle, fx.r.State())
	require.Zero(t, fx.store.Len())
	require.Equal(t, batchFailed, fx.events.Stage(progress.StageBatch)[0].Outcome)
}

func TestRelearningValidatesLangPreference(t *testing.T) {
	t.Parallel()

	for _, pref := range []string{"", "e", "eng"} {
		f, _ := newTestFrontier(t, memory.NewPendingStore())
		r, err := NewRelearning(f, RelearningConfig{LangPreference: pref, Reorderer: &fakeReorderer{}})
		require.NoError(t, err)
		err = r.Submit(context.Background(), &crawler.Candidate{URI: "http://a.example/", Seed: true})
		require.ErrorIs(t, err, ErrConfig, pref)
	}
}

func TestNewRelearningRequiresReorderer(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, memory.NewPendingStore())
	_, err := NewRelearning(f, RelearningConfig{LangPreference: "en"})
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewRelearning(nil, RelearningConfig{LangPreference: "en", Reorderer: &fakeReorderer{}})
	require.ErrorIs(t, err, ErrConfig)
}

func TestRelearningTerminateClearsBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, nil)
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1", "http://a.example/2")
	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))
	require.Equal(t, StateCollecting, fx.r.State())

	require.NoError(t, fx.r.Terminate(ctx))
	require.Equal(t, StateIdle, fx.r.State())
	require.ErrorIs(t, fx.r.Terminate(ctx), ErrTerminated)
	require.ErrorIs(t, fx.r.Submit(ctx, cand("http://a.example/2", parent, 10)), ErrTerminated)
}

func TestRelearningAbortClearsBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newRelearningFixture(t, nil)
	parent := "http://a.example/"
	fx.fetchParent(t, parent, "http://a.example/1", "http://a.example/2")
	require.NoError(t, fx.r.Submit(ctx, cand("http://a.example/1", parent, 10)))

	require.NoError(t, fx.r.Abort(ctx, ErrProtocol))
	require.Equal(t, StateIdle, fx.r.State())
	require.True(t, fx.r.Stats().Done)
	require.ErrorIs(t, fx.r.Terminate(ctx), ErrTerminated)
}

func TestBatchStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "awaiting_service", StateAwaitingService.String())
	require.Equal(t, "unknown", BatchState(42).String())
}
