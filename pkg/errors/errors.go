// Package apperrors defines the error taxonomy shared across the engine.
//
// Transport failures are wrapped into ErrBrokerUnavailable at the gateway
// boundary; business invariant failures surface as typed rejections without
// stack traces.
package apperrors

import (
	"errors"
	"fmt"
)

// Standardized broker errors
var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrSessionExpired    = errors.New("session expired")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("duplicate order detected within deduplication window")
	ErrKillSwitchActive  = errors.New("kill switch active")
	ErrCapacityExhausted = errors.New("subscription capacity exhausted")
	ErrFillTimeout       = errors.New("fill await timed out")
	ErrFillRejected      = errors.New("fill await completed with rejection")
)

// BrokerRejectedError carries the broker's semantic rejection reason verbatim.
type BrokerRejectedError struct {
	Reason string
}

func (e *BrokerRejectedError) Error() string {
	return fmt.Sprintf("broker rejected: %s", e.Reason)
}

// Rejected wraps a broker rejection reason.
func Rejected(reason string) error {
	return &BrokerRejectedError{Reason: reason}
}

// IsRejected reports whether err is a broker rejection and returns its reason.
func IsRejected(err error) (string, bool) {
	var br *BrokerRejectedError
	if errors.As(err, &br) {
		return br.Reason, true
	}
	return "", false
}

// ValidationError is a synchronous router or amendment-machine rejection.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Unavailable wraps a transport error into ErrBrokerUnavailable, preserving
// the cause for logging.
func Unavailable(cause error) error {
	if cause == nil {
		return ErrBrokerUnavailable
	}
	return fmt.Errorf("%w: %v", ErrBrokerUnavailable, cause)
}

// IsTransient reports whether an error is worth retrying at the transport
// layer. Rejections and validation failures are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBrokerUnavailable) || errors.Is(err, ErrRateLimited)
}
