package engine

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/resttap/resttap/pkg/clients"
	"github.com/resttap/resttap/pkg/errors"
	"github.com/resttap/resttap/pkg/logger"
	"github.com/resttap/resttap/pkg/metrics"
)

// RetryPolicy defines bounded-retry behavior with exponential backoff and
// jitter for HTTP fetches.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// delay calculates the backoff delay for a given zero-based attempt.
func (rp RetryPolicy) delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if d > float64(rp.MaxDelay) {
		d = float64(rp.MaxDelay)
	}
	if rp.RandomizeFactor > 0 {
		delta := d * rp.RandomizeFactor
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// FetchResult is the raw outcome of a successful HTTP exchange.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Executor wraps every HTTP call with the retry policy and optional rate
// limiting. Timeouts, connection failures, and HTTP 429/5xx responses are
// retried; any other non-2xx status fails immediately.
type Executor struct {
	client  *clients.HTTPClient
	limiter clients.RateLimiter
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewExecutor creates an executor. limiter may be nil for unlimited rate.
func NewExecutor(client *clients.HTTPClient, limiter clients.RateLimiter, policy RetryPolicy) *Executor {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Executor{
		client:  client,
		limiter: limiter,
		policy:  policy,
		logger:  logger.Get().With(zap.String("component", "retry_executor")),
	}
}

// Fetch executes a request with retries. The request is rebuilt for every
// attempt via the build callback so attempt state never leaks between
// tries. An exhausted retry budget surfaces the last transient error.
func (e *Executor) Fetch(ctx context.Context, streamName string,
	build func(ctx context.Context) (*http.Request, error)) (*FetchResult, error) {

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.HTTPRetries.WithLabelValues(streamName).Inc()
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "rate limit wait interrupted")
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		result, retryAfter, err := e.attempt(streamName, req)
		if err == nil {
			return result, nil
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == e.policy.MaxAttempts-1 {
			break
		}

		wait := e.policy.delay(attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		e.logger.Warn("retrying request",
			zap.String("stream", streamName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "retry wait interrupted")
		case <-timer.C:
		}
	}

	return nil, errors.Wrap(lastErr, errors.ErrorTypeTransient,
		"retries exhausted after "+strconv.Itoa(e.policy.MaxAttempts)+" attempts")
}

// attempt performs one HTTP exchange and classifies the outcome. The
// returned retryAfter is non-zero when the server supplied a Retry-After
// header on a retryable response.
func (e *Executor) attempt(streamName string, req *http.Request) (*FetchResult, time.Duration, error) {
	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.RequestDuration.WithLabelValues(streamName).Observe(time.Since(start).Seconds())
	if err != nil {
		// network errors and timeouts are retryable
		return nil, 0, errors.Wrap(err, errors.ErrorTypeTransient, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeTransient, "failed to read response body")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &FetchResult{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}, 0, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			errors.Newf(errors.ErrorTypeTransient, "server returned status %d", resp.StatusCode)

	default:
		return nil, 0, errors.Newf(errors.ErrorTypeHTTP,
			"server returned status %d", resp.StatusCode).
			WithDetail("body", string(body))
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
