package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned without contacting the upstream while the breaker
// is open.
var ErrCircuitOpen = errors.New("upstream circuit open")

// maxErrorBody caps how much of a non-2xx body is kept on an HTTPError.
const maxErrorBody = 4 << 10

// TimeoutError reports that one attempt exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx upstream status. Body holds at most 4 KiB.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps connection-level failures: DNS, connect, reset, or a
// body read that broke off.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether another attempt could plausibly succeed.
func IsRetryable(err error) bool {
	var (
		te *TimeoutError
		he *HTTPError
		xe *TransportError
	)
	switch {
	case errors.As(err, &te):
		return true
	case errors.As(err, &he):
		return he.StatusCode >= 500
	case errors.As(err, &xe):
		return true
	}
	return false
}

// classify maps an error from http.Client.Do or a body read into the
// package taxonomy. Caller cancellation passes through unchanged.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
