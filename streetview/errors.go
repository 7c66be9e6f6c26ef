package streetview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrTimeout indicates the metadata request timed out. Timeouts are
// non-retryable: the point is marked failed and a resume run can retry it
// after an explicit reset.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrDenied indicates the endpoint rejected the credential (HTTP 403 or a
// REQUEST_DENIED status).
type ErrDenied struct {
	Err error
}

func (e ErrDenied) Error() string {
	return fmt.Errorf("denied: %w", e.Err).Error()
}

func (e ErrDenied) Unwrap() error {
	return e.Err
}

// ErrBadRequest indicates a malformed request (HTTP 400 or INVALID_REQUEST).
type ErrBadRequest struct {
	Err error
}

func (e ErrBadRequest) Error() string {
	return fmt.Errorf("bad_request: %w", e.Err).Error()
}

func (e ErrBadRequest) Unwrap() error {
	return e.Err
}

// ErrRateLimited signals externally requested backoff. RetryAfter carries
// the server-provided delay, or the configured default when the server gave
// none. The crawler sleeps and retries; no point-level failure is recorded
// unless the retry budget runs out.
type ErrRateLimited struct {
	RetryAfter time.Duration
	Err        error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited (retry after %s): %w", e.RetryAfter, e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// classifyError maps transport errors and HTTP status codes onto the typed
// taxonomy.
func classifyError(err error, statusCode int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusBadRequest:
			return ErrBadRequest{Err: wrapped}
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrDenied{Err: wrapped}
		default:
			// Any other non-200 status is still a failure; never let an
			// unrecognized code map to a nil error.
			return wrapped
		}
	}

	return err
}

// errorTypeLabel returns the metrics label for a classified error.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var denied ErrDenied
	if errors.As(err, &denied) {
		return "denied"
	}
	var badRequest ErrBadRequest
	if errors.As(err, &badRequest) {
		return "bad_request"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	return "other"
}
