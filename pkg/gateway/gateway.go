/**
 * @description
 * Shared vocabulary for the external gateway adapters. Adapters classify every failure as
 * either retryable (transport, timeout, upstream 5xx) or a business rejection, and report
 * executed operations with a normalized status.
 *
 * @dependencies
 * - errors, fmt, net/http: Standard Go libraries.
 */
package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks transport failures, timeouts and upstream 5xx responses. Retryable.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRejected marks business declines and 4xx responses. Not retryable.
	ErrRejected = errors.New("gateway rejected request")
)

// Status is the normalized outcome of a gateway operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Error describes a failed gateway call. It unwraps to ErrUnavailable or ErrRejected.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, msg)
}

func (e *Error) Unwrap() []error {
	kind := ErrRejected
	if e.Retryable {
		kind = ErrUnavailable
	}
	if e.Err != nil {
		return []error{kind, e.Err}
	}
	return []error{kind}
}

// TransportError wraps a failure to reach the provider at all.
func TransportError(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Retryable: true, Err: err}
}

// StatusError classifies a non-2xx response by its status code.
func StatusError(provider, op string, statusCode int, message string) *Error {
	return &Error{
		Provider:   provider,
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests,
	}
}

// Rejected reports a 2xx response whose body declined the operation.
func Rejected(provider, op, message string) *Error {
	return &Error{Provider: provider, Op: op, Message: message}
}

// IsRetryable reports whether err was classified as a transient gateway failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
