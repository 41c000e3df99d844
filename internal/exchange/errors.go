package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks failures caused by exchange unavailability: network
// timeouts, 5xx responses, disconnects. These count toward opening the
// circuit breaker and are retried on the next cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("exchange: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks failures caused by bad request parameters. They
// indicate a caller bug, not exchange unavailability, and must never open
// the circuit.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("exchange: invalid request in %s: %s", e.Op, e.Reason)
}

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Invalid builds a ValidationError for operation op.
func Invalid(op, reason string) error {
	return &ValidationError{Op: op, Reason: reason}
}

// IsTransient reports whether err is (or wraps) a transient exchange failure.
// Context deadline expiry and network errors are always transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsValidation reports whether err is (or wraps) a request validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
