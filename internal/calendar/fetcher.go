package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/logger"
)

const (
	defaultAccept = "text/calendar, application/ics, */*"
	maxBodyBytes  = 20 << 20
)

// FetchRequest is what a source adapter wants fetched.
type FetchRequest struct {
	URL    string
	Header http.Header
}

// Fetcher downloads remote calendars with a bounded retry budget.
type Fetcher struct {
	client    *http.Client
	userAgent string
	policy    config.FetchPolicy
	log       logger.Logger

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher. A nil client gets a default one.
func NewFetcher(client *http.Client, userAgent string, policy config.FetchPolicy, log logger.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		policy:    policy,
		log:       log,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch returns the response body of req.
//
// 429 responses back off exponentially from RateLimitInitial up to
// RateLimitMax and end in a *RateLimitedError. Network errors and 5xx gateway
// statuses back off linearly by TransientStep. Any other non-2xx status is
// returned at once as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req *FetchRequest) ([]byte, error) {
	attempts := max(f.policy.MaxAttempts, 1)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, status, retryAfter, err := f.do(ctx, req)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, &FetchError{URL: redactURL(req.URL), Attempts: attempt, Err: ctx.Err()}
		}

		var wait time.Duration
		switch {
		case status == http.StatusTooManyRequests:
			if attempt == attempts {
				return nil, &RateLimitedError{URL: redactURL(req.URL), Attempts: attempt}
			}
			wait = f.rateLimitDelay(attempt, retryAfter)
			lastErr = err

		case status == 0 || retryableStatus(status):
			lastErr = &FetchError{URL: redactURL(req.URL), StatusCode: status, Attempts: attempt, Err: err}
			if attempt == attempts {
				return nil, lastErr
			}
			wait = time.Duration(attempt) * f.policy.TransientStep

		default:
			return nil, &FetchError{URL: redactURL(req.URL), StatusCode: max(status, 0), Attempts: attempt, Err: err}
		}

		f.log.Warn("calendar fetch failed, retrying",
			logger.String("url", redactURL(req.URL)),
			logger.Int("attempt", attempt),
			logger.Int("status", status),
			logger.Duration("next_retry_in", wait),
			logger.Error(err))

		if err := f.sleep(ctx, wait); err != nil {
			return nil, &FetchError{URL: redactURL(req.URL), Attempts: attempt, Err: err}
		}
	}

	return nil, lastErr
}

// do performs one attempt. A non-nil error with status 0 is a network failure.
func (f *Fetcher) do(ctx context.Context, req *FetchRequest) (body []byte, status int, retryAfter time.Duration, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, -1, 0, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", defaultAccept)
	}
	httpReq.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("remote returned status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, -1, 0, errors.New("calendar body exceeds 20 MiB")
	}

	return body, resp.StatusCode, 0, nil
}

func (f *Fetcher) rateLimitDelay(attempt int, retryAfter time.Duration) time.Duration {
	wait := f.policy.RateLimitInitial << (attempt - 1)
	if retryAfter > wait {
		wait = retryAfter
	}
	return min(wait, f.policy.RateLimitMax)
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

// redactURL keeps scheme, host and path; feed URLs often embed secrets in the query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid-url>"
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.User = nil
	return u.String()
}
