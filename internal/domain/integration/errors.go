package integration

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Platform errors
	ErrPlatformNotConfigured   = errors.New("integration: platform not configured")
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed   = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limited")

	// Record errors
	ErrInvalidRecord        = errors.New("integration: invalid record")
	ErrUnknownStream        = errors.New("integration: unknown stream")
	ErrUnsupportedOperation = errors.New("integration: unsupported stock operation")

	// Resolution errors
	ErrEntityNotFound     = errors.New("integration: remote entity not found")
	ErrMissingReference   = errors.New("integration: missing required cross-reference")
	ErrAttributeNotFound  = errors.New("integration: attribute not found on parent product")
	ErrVariationFailed    = errors.New("integration: variation upsert failed")
	ErrReferenceTruncated = errors.New("integration: reference collection truncated")
)

// ---------------------------------------------------------------------------
// ErrorClass
// ---------------------------------------------------------------------------

// ErrorClass groups failures by how the engine reacts to them.
type ErrorClass string

const (
	// ErrorClassRetriable covers 429, 5xx and network timeouts.
	ErrorClassRetriable ErrorClass = "RETRIABLE"
	// ErrorClassFatalInput covers unresolved entities and malformed records.
	ErrorClassFatalInput ErrorClass = "FATAL_INPUT"
	// ErrorClassFatalRemote covers 4xx responses other than 429.
	ErrorClassFatalRemote ErrorClass = "FATAL_REMOTE"
	// ErrorClassPartialCollection marks a reference collection cut short mid-pagination.
	ErrorClassPartialCollection ErrorClass = "PARTIAL_COLLECTION"
)

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	return string(c)
}

// ClassifyError maps an error onto the failure taxonomy.
// Anything not recognised as a platform or pagination failure is treated as bad input.
func ClassifyError(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrPlatformRateLimited), errors.Is(err, ErrPlatformUnavailable):
		return ErrorClassRetriable
	case errors.Is(err, ErrReferenceTruncated):
		return ErrorClassPartialCollection
	case errors.Is(err, ErrPlatformRequestFailed),
		errors.Is(err, ErrPlatformAuthFailed),
		errors.Is(err, ErrPlatformInvalidResponse):
		return ErrorClassFatalRemote
	default:
		return ErrorClassFatalInput
	}
}
