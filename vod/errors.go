package vod

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/twitchapi"
	"github.com/onnwee/chatcaptions/youtubeapi"
)

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the operation should not be retried (permanent errors).
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// Checked first so "503 service unavailable" is not read as a missing video.
	serverErrorPatterns = []string{
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	}
	authPatterns = []string{
		"401", "403", "unauthorized", "forbidden", "access denied",
		"login required", "invalid_grant", "token expired",
	}
	notFoundPatterns = []string{
		"404", "not found", "does not exist", "deleted", "no longer available",
	}
	invalidInputPatterns = []string{
		"invalid vod id", "invalid video id", "invalid url", "malformed", "display duration must be positive",
	}
	networkPatterns = []string{
		"connection reset", "connection refused", "timeout", "temporary failure in name resolution",
		"no route to host", "network unreachable", "dns", "eof", "broken pipe",
	}
	rateLimitPatterns = []string{
		"429", "too many requests", "rate limit", "quota", "throttled",
	}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ClassifyError decides whether a failed caption job is worth retrying.
//
// Fatal: missing videos, rejected credentials, missing YouTube authorization,
// invalid input and invalid caption options. Retryable: network failures,
// server errors, rate limiting and timeouts. Anything else is retried until
// the attempt budget runs out.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	switch {
	case errors.Is(err, twitchapi.ErrVideoNotFound),
		errors.Is(err, youtubeapi.ErrNoToken),
		errors.Is(err, caption.ErrInvalidDuration),
		errors.Is(err, caption.ErrInvalidInterval),
		errors.Is(err, context.Canceled):
		return ErrorClassFatal
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassRetryable
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "rateLimitExceeded" {
				return ErrorClassRetryable
			}
		}
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return ErrorClassRetryable
		case gerr.Code >= 400:
			return ErrorClassFatal
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, serverErrorPatterns):
		return ErrorClassRetryable
	case containsAny(lower, authPatterns),
		containsAny(lower, notFoundPatterns),
		containsAny(lower, invalidInputPatterns):
		return ErrorClassFatal
	case containsAny(lower, networkPatterns),
		containsAny(lower, rateLimitPatterns):
		return ErrorClassRetryable
	}
	return ErrorClassRetryable
}

// IsRetryableError checks if an error should trigger retry logic.
func IsRetryableError(err error) bool {
	return ClassifyError(err) == ErrorClassRetryable
}

// IsFatalError checks if an error should not be retried.
func IsFatalError(err error) bool {
	return ClassifyError(err) == ErrorClassFatal
}
