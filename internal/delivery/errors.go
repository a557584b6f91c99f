package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var ErrNoSender = errors.New("delivery: no sender configured")

// Transient marks a send failure worth retrying (connectivity, rate limits,
// upstream 5xx).
//
//	return delivery.Transient(fmt.Errorf("telegram: %w", err))
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// Permanent marks a send failure that no retry can fix (bad recipient,
// bot blocked, malformed request).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

func IsTransient(err error) bool {
	var e transientError
	return errors.As(err, &e)
}

func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

// Class is the retry classification of a send error.
type Class int

const (
	ClassNone Class = iota
	ClassTransient
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "none"
	}
}

// Classify tags err. Explicit wrappers win; otherwise network errors and a
// per-send deadline count as transient and anything else is permanent.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case IsPermanent(err):
		return ClassPermanent
	case IsTransient(err):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassPermanent
}
