// Package resilience classifies failures for the fetch scheduler's retry
// decisions: transient (request timeout, retried) versus fatal (everything
// else on the transport) versus recoverable persistence errors (rolled back).
package resilience

import (
	"errors"
	"net"
	"strings"
)

// TransientError wraps a failure that is safe to retry, i.e. a request
// timeout. Any other transport failure propagates without retry so that a
// parsing or server bug is not amplified into repeated external calls.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything in its chain) is a timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Wrapped client errors lose their net.Error identity.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"context deadline exceeded",
		"i/o timeout",
		"tls handshake timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// PersistenceError wraps a database failure. The scheduler releases the
// ledger entry for a URL whose continuation failed this way, because the
// transaction was rolled back and the work can be redone safely.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError marks err as a rolled-back database failure.
func NewPersistenceError(err error) *PersistenceError {
	return &PersistenceError{Err: err}
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
