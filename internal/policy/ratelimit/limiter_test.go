package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesSameAuthority(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://example.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Authorities())
}

func TestLimiterSeparatesAuthorities(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.other/"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 2, l.Authorities())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/"))
	}
	require.Zero(t, l.Authorities())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorContains(t, l.Wait(ctx, "https://a.example/"), "rate limit wait")
}
