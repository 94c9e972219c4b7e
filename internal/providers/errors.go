package providers

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoProvider is returned when no configured provider survives policy
// filtering.
var ErrNoProvider = errors.New("no provider available")

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry|try again)\s+(?:after|in)\s+(\d+)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?|h|hours?)?`)

// IsRateLimit reports whether the error represents a quota or rate-limit
// rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "rate limit") ||
		strings.Contains(text, "rate-limit") ||
		strings.Contains(text, "quota") ||
		strings.Contains(text, "too many requests")
}

// IsModelUnavailable reports whether the error indicates the requested model
// cannot be served by the provider.
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	if !strings.Contains(text, "model") {
		return false
	}
	return strings.Contains(text, "unavailable") ||
		strings.Contains(text, "not found") ||
		strings.Contains(text, "does not exist") ||
		strings.Contains(text, "no such model") ||
		strings.Contains(text, "deprecated")
}

// RetryAfterHint extracts how long the provider asked us to back off. It
// prefers the structured Retry-After value and falls back to scanning the
// error text ("retry after 30 seconds", "try again in 2m"). Returns zero when
// no hint is present.
func RetryAfterHint(err error) time.Duration {
	if err == nil {
		return 0
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter
	}

	match := retryAfterPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0
	}
	amount, convErr := strconv.Atoi(match[1])
	if convErr != nil || amount < 0 {
		return 0
	}
	unit := strings.ToLower(match[2])
	switch {
	case strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "milli"):
		return time.Duration(amount) * time.Millisecond
	case strings.HasPrefix(unit, "m"):
		return time.Duration(amount) * time.Minute
	case strings.HasPrefix(unit, "h"):
		return time.Duration(amount) * time.Hour
	default:
		return time.Duration(amount) * time.Second
	}
}
