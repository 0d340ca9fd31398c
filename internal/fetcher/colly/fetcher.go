// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

// DefaultTimeout bounds a single fetch when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps the downloaded body in bytes; zero keeps colly's default.
	MaxBodySize int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Pages are
// always fetched: the frontier may dispatch a URI more than once, and
// exclusion rules are the host's business.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and returns the page with its outlinks
// in document order.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (crawler.Page, error) {
	var (
		page     crawler.Page
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, time.Now(), &page, &fetchErr)

	if err := f.runCollector(ctx, collector, uri, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	if page.URI == "" {
		page.URI = uri
	}
	return page, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *crawler.Page,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		page.Content = crawler.Content{
			URI:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			FetchedAt:   start.UTC(),
		}
		page.Duration = time.Since(start)
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if e.Response != nil && e.Response.StatusCode >= http.StatusBadRequest {
			return
		}
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			page.Links = append(page.Links, link)
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
