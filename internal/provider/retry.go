package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// retryableError is a transient HTTP failure from a provider.
type retryableError struct {
	statusCode int
	body       string
	retryAfter time.Duration // from the Retry-After header, 0 when absent
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// backoff is the wait before attempt n (n >= 1): quadratic with jitter.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// parseRetryAfter reads delay-seconds or an HTTP date. Values beyond
// maxRetryAfter are clamped.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
	}
	if d <= 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}

// doWithRetry sends the request built by buildReq, retrying network errors,
// 5xx and 429. A Retry-After header on the failed response replaces the
// computed backoff for the next attempt. Only the response headers are
// awaited here, so a streamed body is not retried once it has started.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr error
		wait    time.Duration
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = backoff(attempt)
			}
			logger.Warn("retrying provider request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait = 0
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			logger.Warn("provider request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			rerr := &retryableError{
				statusCode: resp.StatusCode,
				body:       string(body),
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			lastErr = rerr
			wait = rerr.retryAfter
			logger.Warn("provider returned a retryable status", "status", resp.StatusCode, "retry_after", wait)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}
