package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request to a remote service.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// ErrMalformed marks a response that could not be decoded into the expected
// schema. Such responses are never retried.
var ErrMalformed = errors.New("malformed response")

// StatusError reports a non-200 HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// ServiceError carries the message of an {"err": "..."} envelope.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return "service error: " + e.Message
}

// EncodeURI encodes uri as standard base64 with '+' replaced by '_'.
func EncodeURI(uri string) string {
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString([]byte(uri)), "+", "_")
}

// DecodeURI reverses EncodeURI.
func DecodeURI(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(encoded, "_", "+"))
	if err != nil {
		return "", fmt.Errorf("decode uri: %w", err)
	}
	return string(raw), nil
}

func newHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postForm sends form to endpoint and returns the body of a 200 response.
func postForm(ctx context.Context, client *http.Client, endpoint, userAgent string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return body, nil
}
