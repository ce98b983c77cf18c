package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second

	// NoRetry disables retries for a call; a zero MaxRetries means "use the
	// default".
	NoRetry = -1
)

// Options tune a single logical call. Zero values fall back to the defaults.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client performs outbound JSON calls with bounded timeout, bounded retries,
// and linear backoff. Retried POSTs are re-sent verbatim under a stable
// Idempotency-Key so receivers can dedupe duplicate delivery.
type Client struct {
	httpClient *http.Client
	defaults   Options
	log        *zap.Logger
}

// New builds a client. The underlying http.Client carries no timeout of its
// own; each attempt is bounded by a per-call context deadline instead, so a
// remote that never responds cannot hold a call past Options.Timeout.
func New(log *zap.Logger) *Client {
	return NewWithDefaults(Options{}, log)
}

// NewWithDefaults builds a client whose zero-valued per-call options resolve
// to defaults instead of the package constants.
func NewWithDefaults(defaults Options, log *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		defaults:   defaults,
		log:        log,
	}
}

// resolve layers a call's options over the client defaults and then the
// package constants.
func (c *Client) resolve(o Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = c.defaults.Timeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = c.defaults.MaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = c.defaults.RetryDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Post sends body as JSON and decodes the 2xx response into out (which may
// be nil to discard the body).
func (c *Client) Post(ctx context.Context, url string, body any, headers map[string]string, out any, opts Options) error {
	opts = c.resolve(opts)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	idempotencyKey := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err := c.do(ctx, http.MethodPost, url, payload, headers, idempotencyKey, out, opts.Timeout)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < opts.MaxRetries {
			c.log.Warn("http request failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if err := sleep(ctx, opts.RetryDelay*time.Duration(attempt+1)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// Get fetches url and decodes the 2xx response into out.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, out any, opts Options) error {
	opts = c.resolve(opts)

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err := c.do(ctx, http.MethodGet, url, nil, headers, "", out, opts.Timeout)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < opts.MaxRetries {
			c.log.Warn("http request failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if err := sleep(ctx, opts.RetryDelay*time.Duration(attempt+1)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, headers map[string]string, idempotencyKey string, out any, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s", method, url, errorMessage(raw, res.StatusCode))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage pulls the `error` field out of a failure body when present.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("HTTP %d", status)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
