package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

func TestFetchReturnsPageAndLinks(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<html><body>
			<a href="/one">one</a>
			<a href="two.html">two</a>
			<a href="https://other.example/x">x</a>
		</body></html>`)
	}))
	t.Cleanup(server.Close)

	f := New(Config{UserAgent: "frontier-test", Timeout: time.Second})
	page, err := f.Fetch(context.Background(), server.URL+"/dir/")
	require.NoError(t, err)

	require.Equal(t, "frontier-test", <-agents)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", page.ContentType)
	require.Contains(t, string(page.Body), "two.html")
	require.Equal(t, []string{
		server.URL + "/one",
		server.URL + "/dir/two.html",
		"https://other.example/x",
	}, page.Links)

	again, err := f.Fetch(context.Background(), server.URL+"/dir/")
	require.NoError(t, err)
	require.Len(t, again.Links, 3)
}

func TestFetchErrorStatusKeepsPageWithoutLinks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `<a href="/gone">gone</a>`)
	}))
	t.Cleanup(server.Close)

	page, err := New(Config{}).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
	require.Empty(t, page.Links)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Timeout: time.Second}).Fetch(ctx, server.URL)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	start := time.Unix(0, 0)
	var page crawler.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &page, &fetchErr)
	if hooks.onResponse == nil || hooks.onHTML == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}
	if hooks.selector != "a[href]" {
		t.Fatalf("unexpected selector %q", hooks.selector)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	if page.StatusCode != http.StatusCreated || string(page.Body) != "body" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.ContentType != "text/plain" || !page.FetchedAt.Equal(start) {
		t.Fatalf("unexpected metadata: %+v", page.Content)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onHTML     colly.HTMLCallback
	selector   string
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	s.selector = selector
	s.onHTML = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
