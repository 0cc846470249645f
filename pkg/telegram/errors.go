package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedUpdate is returned by ParseUpdate for update kinds the bot
// does not handle (edits, channel posts, ...).
var ErrUnsupportedUpdate = errors.New("unsupported update")

// APIError is a response the platform rejected, either by HTTP status or by
// an ok:false envelope.
type APIError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s: status %d", e.Method, e.StatusCode)
	if e.Code != 0 {
		msg += fmt.Sprintf(", code %d", e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Method string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("telegram %s: network: %v", e.Method, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MalformedResponseError is a response body that could not be decoded.
type MalformedResponseError struct {
	Method string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("telegram %s: malformed response: %v", e.Method, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// PayloadTooLargeError is a download that exceeded the configured limit.
// Size is -1 when only the overflow is known.
type PayloadTooLargeError struct {
	Limit int64
	Size  int64
}

func (e *PayloadTooLargeError) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("payload exceeds %d bytes", e.Limit)
	}
	return fmt.Sprintf("payload of %d bytes exceeds %d bytes", e.Size, e.Limit)
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.Code >= 500
	}
	return false
}
