// Package errkind classifies failures that occur during a sync cycle.
//
// Every error that crosses the cycle boundary is bucketed into one of the
// kinds below so the error reporter can decide how loudly to escalate it.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the classification of a sync-cycle failure.
type Kind int

const (
	// Unknown marks unexpected errors (programming bugs, recovered panics).
	// Retried like transient failures but flagged for operator attention.
	Unknown Kind = iota
	// Transient marks network or timeout failures. Retried on the next
	// interval with no extra backoff.
	Transient
	// Auth marks invalid or expired credential failures. Retried, but
	// surfaced as degraded health sooner.
	Auth
	// Malformed marks fetcher responses that violate the data-model
	// invariants. The cycle aborts without persisting partial data.
	Malformed
	// Persistence marks tracking-service write failures. The watermark is
	// not advanced, guaranteeing redelivery of the same range.
	Persistence
)

// String returns the kind name as used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Auth:
		return "auth"
	case Malformed:
		return "malformed_response"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a classified sync-cycle error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to an existing error. Returns nil for a nil error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Transientf creates a transient IO error.
func Transientf(format string, args ...any) error {
	return &Error{Kind: Transient, Err: fmt.Errorf(format, args...)}
}

// Authf creates an authentication error.
func Authf(format string, args ...any) error {
	return &Error{Kind: Auth, Err: fmt.Errorf(format, args...)}
}

// Malformedf creates a malformed-response error.
func Malformedf(format string, args ...any) error {
	return &Error{Kind: Malformed, Err: fmt.Errorf(format, args...)}
}

// Persistencef creates a persistence error.
func Persistencef(format string, args ...any) error {
	return &Error{Kind: Persistence, Err: fmt.Errorf(format, args...)}
}

// Of returns the kind of the first classified error in err's chain,
// or Unknown when the chain carries no classification.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && Of(err) == kind
}
