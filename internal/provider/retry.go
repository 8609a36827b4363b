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

// retryPolicy controls doWithRetry. Attempt n (n >= 1) waits n*n*Base plus
// up to half of that again as jitter, unless the server sent Retry-After.
type retryPolicy struct {
	Retries int           // attempts after the first
	Base    time.Duration // backoff unit
	MaxWait time.Duration // upper bound for any single wait, Retry-After included
}

var defaultRetry = retryPolicy{Retries: 3, Base: time.Second, MaxWait: 30 * time.Second}

// statusError is a non-2xx answer that is worth retrying.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// wait returns how long to sleep before the given retry attempt.
func (p retryPolicy) wait(attempt int, retryAfter string) time.Duration {
	d := time.Duration(attempt*attempt) * p.Base
	d += time.Duration(rand.Int64N(int64(d/2 + 1)))
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// doWithRetry sends the request built by buildReq, retrying network errors,
// 5xx and 429 answers according to policy. The caller owns the returned body.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter string
	)
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			backoff := policy.wait(attempt, retryAfter)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, retryAfter = err, ""
			continue
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = &statusError{statusCode: resp.StatusCode, body: string(body)}
		retryAfter = resp.Header.Get("Retry-After")
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", policy.Retries, lastErr)
}
