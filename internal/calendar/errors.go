package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned when the feed is already being synchronized.
	ErrSyncInProgress = errors.New("feed synchronization already in progress")
	// ErrFeedNotEligible is returned for disabled or export-direction feeds.
	ErrFeedNotEligible = errors.New("feed is not an enabled import feed")
	// ErrFeedNotFound is returned when the feed id does not exist.
	ErrFeedNotFound = errors.New("feed not found")
)

// FetchError is a transport failure reaching a remote calendar, after retries.
// StatusCode is zero for network errors.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetching %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitedError means the remote kept answering 429 until the retry budget ran out.
type RateLimitedError struct {
	URL      string
	Attempts int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("fetching %s: rate limited after %d attempts", e.URL, e.Attempts)
}

// ParseError means the payload is not a calendar document at all.
// Malformed single entries are skipped and never produce a ParseError.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing calendar: %s: %v", e.Reason, e.Err)
	}
	return "parsing calendar: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// UserMessage turns a sync failure into a short reason fit for the person who
// triggered it.
func UserMessage(err error) string {
	var (
		rateErr  *RateLimitedError
		fetchErr *FetchError
		parseErr *ParseError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSyncInProgress):
		return "This calendar is already being synchronized, try again in a moment."
	case errors.Is(err, ErrFeedNotEligible):
		return "This calendar is disabled or is an export calendar."
	case errors.Is(err, ErrFeedNotFound):
		return "Calendar not found."
	case errors.As(err, &rateErr):
		return "The calendar provider is rate limiting requests, try again later."
	case errors.As(err, &fetchErr):
		if fetchErr.StatusCode != 0 {
			return fmt.Sprintf("The calendar provider answered with HTTP %d.", fetchErr.StatusCode)
		}
		return "The calendar provider could not be reached."
	case errors.As(err, &parseErr):
		return "The calendar link did not return a valid calendar."
	default:
		return "Synchronization failed, please try again later."
	}
}
