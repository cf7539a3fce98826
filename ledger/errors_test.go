package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"500", &StatusError{Code: 500}, ErrorClassRetryable},
		{"503 wrapped", fmt.Errorf("post: %w", &StatusError{Code: 503}), ErrorClassRetryable},
		{"408", &StatusError{Code: 408}, ErrorClassRetryable},
		{"429", &StatusError{Code: 429}, ErrorClassRetryable},
		{"400", &StatusError{Code: 400}, ErrorClassFatal},
		{"403", &StatusError{Code: 403}, ErrorClassFatal},
		{"404", &StatusError{Code: 404}, ErrorClassFatal},
		{"rejected", ErrRejected, ErrorClassRetryable},
		{"canceled", fmt.Errorf("do: %w", context.Canceled), ErrorClassFatal},
		{"deadline", context.DeadlineExceeded, ErrorClassRetryable},
		{"net timeout", timeoutErr{}, ErrorClassRetryable},
		{"bad request build", fmt.Errorf("%w: boom", errInvalidRequest), ErrorClassFatal},
		{"bad scheme", errors.New(`Post "ftp://x": unsupported protocol scheme "ftp"`), ErrorClassFatal},
		{"unknown", errors.New("something odd"), ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorClassString(t *testing.T) {
	if ErrorClassRetryable.String() != "retryable" || ErrorClassFatal.String() != "fatal" || ErrorClass(42).String() != "unknown" {
		t.Error("unexpected ErrorClass names")
	}
	if IsFatalError(&StatusError{Code: 502}) || !IsFatalError(&StatusError{Code: 401}) {
		t.Error("helpers disagree with Classify")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	if got := (&StatusError{Code: 500}).Error(); got != "ledger webhook: HTTP 500" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&StatusError{Code: 400, Body: "bad"}).Error(); got != "ledger webhook: HTTP 400: bad" {
		t.Errorf("Error() = %q", got)
	}
}
