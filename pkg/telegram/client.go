package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/aretw0/blueflow/internal/logging"
)

const (
	// DefaultBaseURL is the public Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultConcurrency is the process-wide ceiling on in-flight requests.
	DefaultConcurrency = 25
	// DefaultMaxDownloadSize is the largest file the Bot API serves.
	DefaultMaxDownloadSize = 20 << 20

	maxResponseBytes = 8 << 20
)

// Client talks to the Bot API. Safe for concurrent use.
type Client struct {
	token       string
	baseURL     string
	fileBaseURL string
	httpClient  *http.Client
	logger      *slog.Logger
	hooks       Hooks

	concurrency int64
	sem         *semaphore.Weighted
	inFlight    atomic.Int64
	peak        atomic.Int64

	initialInterval time.Duration
	multiplier      float64
	maxRetries      uint64
	maxDownload     int64
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host, e.g. a local Bot API
// server or a test double.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithFileBaseURL sets the host files are downloaded from. Defaults to the base URL.
func WithFileBaseURL(u string) Option {
	return func(c *Client) { c.fileBaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHooks installs traffic observers.
func WithHooks(h Hooks) Option {
	return func(c *Client) { c.hooks = h }
}

// WithConcurrency sets the ceiling on in-flight requests.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = int64(n)
		}
	}
}

// WithBackoff sets the retry policy.
func WithBackoff(initial time.Duration, multiplier float64, maxRetries uint64) Option {
	return func(c *Client) {
		c.initialInterval = initial
		c.multiplier = multiplier
		c.maxRetries = maxRetries
	}
}

// WithMaxDownloadSize caps DownloadFile.
func WithMaxDownloadSize(n int64) Option {
	return func(c *Client) { c.maxDownload = n }
}

// New creates a client for the bot identified by token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:           token,
		baseURL:         DefaultBaseURL,
		httpClient:      &http.Client{Timeout: 90 * time.Second},
		logger:          logging.NewNop(),
		concurrency:     DefaultConcurrency,
		initialInterval: DefaultInitialInterval,
		multiplier:      DefaultMultiplier,
		maxRetries:      DefaultMaxRetries,
		maxDownload:     DefaultMaxDownloadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fileBaseURL == "" {
		c.fileBaseURL = c.baseURL
	}
	c.sem = semaphore.NewWeighted(c.concurrency)
	return c
}

// Stats is a snapshot of in-flight requests.
type Stats struct {
	InFlight int64
	Peak     int64
	Limit    int64
}

// Stats reports current and peak in-flight requests.
func (c *Client) Stats() Stats {
	return Stats{InFlight: c.inFlight.Load(), Peak: c.peak.Load(), Limit: c.concurrency}
}

func (c *Client) endpoint(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

func (c *Client) fileURL(filePath string) string {
	return c.fileBaseURL + "/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/")
}

// acquire takes one slot of the ceiling and returns its release.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if c.hooks.OnInFlight != nil {
		c.hooks.OnInFlight(n)
	}
	return func() {
		n := c.inFlight.Add(-1)
		c.sem.Release(1)
		if c.hooks.OnInFlight != nil {
			c.hooks.OnInFlight(n)
		}
	}, nil
}

// retry runs op under the backoff policy. Errors that are not retryable stop
// the loop at once. For methods that post a message a network error is final
// too: the platform may already have delivered it.
func (c *Client) retry(ctx context.Context, method string, op func() error) error {
	idempotent := isIdempotent(method)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		var netErr *NetworkError
		if !idempotent && errors.As(err, &netErr) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(NewBackOff(c.initialInterval, c.multiplier, c.maxRetries), ctx),
		func(err error, delay time.Duration) {
			c.logger.Warn("telegram request failed, retrying", "method", method, "delay", delay, "err", err)
			if c.hooks.OnRetry != nil {
				c.hooks.OnRetry(method, err, delay)
			}
		})
}

// isIdempotent reports whether repeating method after a lost response is
// harmless. Every send* method creates a new message.
func isIdempotent(method string) bool {
	return !strings.HasPrefix(method, "send")
}

// envelope is the Bot API response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// attempt performs one HTTP round trip while holding a slot of the ceiling.
// build is called after the slot is acquired.
func (c *Client) attempt(ctx context.Context, method string, build func() (*http.Request, error), out any) (err error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() {
		if c.hooks.OnRequest != nil {
			c.hooks.OnRequest(method, outcomeOf(err), time.Since(start))
		}
	}()

	req, err := build()
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Method: method, Err: err}
	}
	c.logger.Debug("telegram request", "method", method, "status", resp.StatusCode, "elapsed", time.Since(start))
	return decodeEnvelope(method, resp.StatusCode, body, out)
}

func decodeEnvelope(method string, status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 400 {
			return &APIError{Method: method, StatusCode: status, Description: http.StatusText(status)}
		}
		return &MalformedResponseError{Method: method, Err: err}
	}
	if !env.OK || status >= 400 {
		apiErr := &APIError{Method: method, StatusCode: status, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &MalformedResponseError{Method: method, Err: err}
	}
	return nil
}

// call invokes a JSON method with retries.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram %s: encode params: %w", method, err)
	}
	return c.retry(ctx, method, func() error {
		return c.attempt(ctx, method, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		}, out)
	})
}

// sinkWriter remembers the first error returned by the caller's writer so it
// is not mistaken for a transport failure.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

// DownloadFile streams the file at filePath into sink and returns the number
// of bytes written. Files above the download limit fail with
// *PayloadTooLargeError without buffering more than limit+1 bytes.
// A failure after bytes reached sink is not retried, and an error from sink
// itself is returned as is.
func (c *Client) DownloadFile(ctx context.Context, filePath string, sink io.Writer) (int64, error) {
	const method = "downloadFile"
	sw := &sinkWriter{w: sink}
	var written int64
	err := c.retry(ctx, method, func() error {
		n, err := c.downloadOnce(ctx, filePath, sw)
		written += n
		if sw.err != nil {
			return backoff.Permanent(sw.err)
		}
		if err != nil && written > 0 {
			return backoff.Permanent(err)
		}
		return err
	})
	return written, err
}

func (c *Client) downloadOnce(ctx context.Context, filePath string, sink io.Writer) (n int64, err error) {
	const method = "downloadFile"
	release, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	start := time.Now()
	defer func() {
		if c.hooks.OnRequest != nil {
			c.hooks.OnRequest(method, outcomeOf(err), time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(filePath), nil)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: build request: %w", method, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &NetworkError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &APIError{Method: method, StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
	}
	if resp.ContentLength > c.maxDownload {
		return 0, &PayloadTooLargeError{Limit: c.maxDownload, Size: resp.ContentLength}
	}

	n, err = io.Copy(sink, io.LimitReader(resp.Body, c.maxDownload+1))
	if n > c.maxDownload {
		return n, &PayloadTooLargeError{Limit: c.maxDownload, Size: -1}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, &NetworkError{Method: method, Err: err}
	}
	return n, nil
}

// isContextErr reports whether err came from cancellation.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
