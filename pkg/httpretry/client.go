package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries transient failures (network errors, 429 and 5xx gateway statuses) with
// exponential backoff and full jitter. The last response is returned as-is.
type Client struct {
	doer       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

type Option func(*Client)

func WithDoer(doer Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

func New(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		doer:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.delay(attempt)
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.String("method", req.Method),
				zap.String("url", req.URL.Redacted()),
				zap.Duration("delay", delay),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, lastErrOr(lastErr, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, lastErrOr(lastErr, err)
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		// освобождаем соединение перед повтором
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func (c *Client) delay(attempt int) time.Duration {
	d := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(c.maxDelay) {
		d = float64(c.maxDelay)
	}
	return time.Duration(rand.Float64() * d)
}

func lastErrOr(last, fallback error) error {
	if last != nil {
		return last
	}
	return fallback
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
