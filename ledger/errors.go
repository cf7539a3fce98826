package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorClass represents whether a failed submission should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the submission should be retried (transient errors).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the submission should not be retried (permanent errors).
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

// ErrRejected is returned when the ledger answered 2xx but with {"ok": false}.
var ErrRejected = errors.New("ledger rejected record")

// StatusError is a non-2xx answer from the webhook.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ledger webhook: HTTP %d", e.Code)
	}
	return fmt.Sprintf("ledger webhook: HTTP %d: %s", e.Code, e.Body)
}

// Classify sorts submission errors into retryable and fatal.
//
// Fatal (not retried):
//   - 4xx answers other than 408 and 429 (bad payload, auth, missing endpoint)
//   - malformed URLs and request construction failures
//   - cancellation of the submit context
//
// Retryable:
//   - 408, 429 and 5xx answers
//   - {"ok": false} answers (the receiving script may be locked or busy)
//   - network errors (connection reset, timeouts, DNS)
//
// Anything else is treated as retryable so a transient hiccup never drops a win.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
			return ErrorClassRetryable
		case se.Code >= 500:
			return ErrorClassRetryable
		case se.Code >= 400:
			return ErrorClassFatal
		default:
			return ErrorClassRetryable
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, errInvalidRequest) {
		return ErrorClassFatal
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"unsupported protocol scheme", "invalid url", "missing protocol scheme"} {
		if strings.Contains(lower, pattern) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsFatalError checks if an error should not be retried.
func IsFatalError(err error) bool {
	return Classify(err) == ErrorClassFatal
}

var errInvalidRequest = errors.New("invalid ledger request")
