package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/metrics"
)

const classifierService = "classifier"

// ClassifierConfig configures the relevance classifier client.
type ClassifierConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	// Base64 sends URIs base64url-encoded.
	Base64 bool
}

// ScoreRequest is one referrer/candidate pair to score.
type ScoreRequest struct {
	Source     string
	Target     string
	SourceLang string
	TargetLang string
}

// Classifier scores how relevant a candidate is given its referrer.
type Classifier struct {
	cfg    ClassifierConfig
	client *http.Client
	logger *zap.Logger
}

// NewClassifier builds a classifier client. A nil client gets a default one
// bounded by cfg.Timeout.
func NewClassifier(cfg ClassifierConfig, client *http.Client, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Classifier{
		cfg:    cfg,
		client: newHTTPClient(client, cfg.Timeout),
		logger: logger.Named("classifier"),
	}
}

type classifierResponse struct {
	OK  []json.RawMessage `json:"ok"`
	Err *string           `json:"err"`
}

// Similarity returns the relevance of req.Target in [0, 100]. The call is
// never retried; any failure returns 0 together with the reason.
func (c *Classifier) Similarity(ctx context.Context, req ScoreRequest) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	src, trg := req.Source, req.Target
	if c.cfg.Base64 {
		src, trg = EncodeURI(src), EncodeURI(trg)
	}
	form.Set("src_urls", src)
	form.Set("trg_urls", trg)
	if req.SourceLang != "" && req.TargetLang != "" {
		form.Set("src_urls_lang", req.SourceLang)
		form.Set("trg_urls_lang", req.TargetLang)
	}

	start := time.Now()
	score, err := c.call(ctx, form)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRemoteCall(classifierService, outcome, time.Since(start))
	if err != nil {
		return 0, err
	}
	c.logger.Debug("classifier scored pair",
		zap.String("via", req.Source),
		zap.String("uri", req.Target),
		zap.Float64("score", score),
	)
	return score * 100, nil
}

func (c *Classifier) call(ctx context.Context, form url.Values) (float64, error) {
	body, err := postForm(ctx, c.client, c.cfg.URL, c.cfg.UserAgent, form)
	if err != nil {
		return 0, err
	}
	var resp classifierResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode classifier response: %w: %v", ErrMalformed, err)
	}
	if resp.OK == nil {
		if resp.Err != nil {
			return 0, &ServiceError{Message: *resp.Err}
		}
		return 0, fmt.Errorf("classifier response has neither ok nor err: %w", ErrMalformed)
	}
	if len(resp.OK) != 1 {
		return 0, fmt.Errorf("classifier returned %d scores: %w", len(resp.OK), ErrMalformed)
	}
	score, err := parseScore(resp.OK[0])
	if err != nil {
		return 0, err
	}
	return clamp(score, 0, 1), nil
}

// parseScore accepts a decimal string or a bare JSON number.
func parseScore(raw json.RawMessage) (float64, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		score, parseErr := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if parseErr != nil {
			return 0, fmt.Errorf("parse score %q: %w", text, ErrMalformed)
		}
		return score, nil
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("parse score %s: %w", string(raw), ErrMalformed)
	}
	return number, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsUnavailable reports whether err came from the transport or a non-200
// status rather than from the service's own payload.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var svcErr *ServiceError
	return !errors.As(err, &svcErr) && !errors.Is(err, ErrMalformed)
}
