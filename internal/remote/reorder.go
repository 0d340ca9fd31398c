package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
)

const reorderService = "reorder"

// ReorderConfig configures the sibling reordering client.
type ReorderConfig struct {
	URL         string
	UserAgent   string
	Timeout     time.Duration
	Base64      bool
	MaxAttempts int
}

// ReorderRequest is one complete sibling batch.
type ReorderRequest struct {
	Parent     string
	ParentLang string
	Children   []string
}

// ReorderResult is the service's answer: the child to fetch next and the
// children to enqueue unchanged.
type ReorderResult struct {
	ActionURI string
	Filtered  []string
}

// Reorderer calls the reordering service with bounded retries.
type Reorderer struct {
	cfg    ReorderConfig
	client *http.Client
	retry  RetryPolicy
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// NewReorderer builds a client. A nil client gets a default one bounded by
// cfg.Timeout; a nil policy retries cfg.MaxAttempts times with backoff.
func NewReorderer(cfg ReorderConfig, client *http.Client, retry RetryPolicy, logger *zap.Logger) *Reorderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(cfg.MaxAttempts)
	}
	return &Reorderer{
		cfg:    cfg,
		client: newHTTPClient(client, cfg.Timeout),
		retry:  retry,
		sleep:  sleepContext,
		logger: logger.Named("reorder"),
	}
}

type reorderResponse struct {
	OK *struct {
		ActionURL    *string  `json:"action_url"`
		FilteredURLs []string `json:"filtered_urls"`
	} `json:"ok"`
	Err *string `json:"err"`
}

// Reorder submits the batch and returns the parsed answer. It gives up after
// the retry policy's attempt bound or on the first unparsable response.
func (r *Reorderer) Reorder(ctx context.Context, req ReorderRequest) (ReorderResult, error) {
	form := url.Values{}
	form.Set("parent_url", r.encode(req.Parent))
	form.Set("parent_lang", req.ParentLang)
	for _, child := range req.Children {
		form.Add("child_url", r.encode(child))
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, err := r.call(ctx, form)
		if err == nil {
			metrics.ObserveRemoteCall(reorderService, "ok", time.Since(start))
			return result, nil
		}
		metrics.ObserveRemoteCall(reorderService, "error", time.Since(start))
		lastErr = err
		r.logger.Warn("reorder attempt failed",
			zap.Int("attempt", attempt),
			zap.String("parent", req.Parent),
			zap.Error(err),
		)
		if !r.retry.ShouldRetry(err, attempt) {
			break
		}
		if err := r.sleep(ctx, r.retry.Backoff(attempt)); err != nil {
			return ReorderResult{}, fmt.Errorf("reorder %s: %w", req.Parent, err)
		}
	}
	return ReorderResult{}, fmt.Errorf("reorder %s: %w", req.Parent, lastErr)
}

func (r *Reorderer) encode(uri string) string {
	if r.cfg.Base64 {
		return EncodeURI(uri)
	}
	return uri
}

func (r *Reorderer) call(ctx context.Context, form url.Values) (ReorderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := postForm(ctx, r.client, r.cfg.URL, r.cfg.UserAgent, form)
	if err != nil {
		return ReorderResult{}, err
	}
	var resp reorderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ReorderResult{}, fmt.Errorf("decode reorder response: %w: %v", ErrMalformed, err)
	}
	if resp.OK == nil {
		if resp.Err != nil {
			return ReorderResult{}, &ServiceError{Message: *resp.Err}
		}
		return ReorderResult{}, fmt.Errorf("reorder response has neither ok nor err: %w", ErrMalformed)
	}
	if resp.OK.ActionURL == nil || *resp.OK.ActionURL == "" {
		return ReorderResult{}, fmt.Errorf("reorder response lacks action_url: %w", ErrMalformed)
	}
	if resp.OK.FilteredURLs == nil {
		return ReorderResult{}, fmt.Errorf("reorder response lacks filtered_urls: %w", ErrMalformed)
	}
	return ReorderResult{ActionURI: *resp.OK.ActionURL, Filtered: resp.OK.FilteredURLs}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
