package ecommerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/erp/woosync/internal/domain/integration"
)

const maxErrorBodyChars = 512

// APIError is a final (post-retry) failure of one WooCommerce call.
type APIError struct {
	Method string
	Path   string
	// StatusCode is zero for transport failures
	StatusCode int
	// Code and Message come from the WooCommerce error body when present
	Code    string
	Message string
	// Attempts is the number of attempts made, retries included
	Attempts int

	kind  error
	cause error
}

// Error implements error
func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("woocommerce: %s %s failed after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.cause)
	case e.Message != "":
		return fmt.Sprintf("woocommerce: %s %s returned %d after %d attempt(s): %s", e.Method, e.Path, e.StatusCode, e.Attempts, e.Message)
	default:
		return fmt.Sprintf("woocommerce: %s %s returned %d after %d attempt(s)", e.Method, e.Path, e.StatusCode, e.Attempts)
	}
}

// Unwrap exposes the platform sentinel and the transport cause
func (e *APIError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// Retriable returns true for rate limiting, server errors and timeouts
func (e *APIError) Retriable() bool {
	return errors.Is(e.kind, integration.ErrPlatformRateLimited) || errors.Is(e.kind, integration.ErrPlatformUnavailable)
}

// IsRetriableStatus reports whether a status code is worth retrying: 429 and 5xx.
func IsRetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// statusKind maps a non-2xx status onto a platform sentinel.
func statusKind(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return integration.ErrPlatformRateLimited
	case status >= 500:
		return integration.ErrPlatformUnavailable
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return integration.ErrPlatformAuthFailed
	default:
		return integration.ErrPlatformRequestFailed
	}
}

// wooErrorBody is the error envelope WordPress REST returns.
type wooErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newStatusError(method, path string, status int, body []byte, attempts int) *APIError {
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Attempts:   attempts,
		kind:       statusKind(status),
	}

	var envelope wooErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Message
	} else if len(body) > 0 {
		msg := string(body)
		if len(msg) > maxErrorBodyChars {
			msg = msg[:maxErrorBodyChars]
		}
		apiErr.Message = msg
	}
	return apiErr
}

func newTransportError(method, path string, cause error, attempts int) *APIError {
	return &APIError{
		Method:   method,
		Path:     path,
		Attempts: attempts,
		kind:     integration.ErrPlatformUnavailable,
		cause:    cause,
	}
}

// isTimeout reports whether err is a network-level timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
