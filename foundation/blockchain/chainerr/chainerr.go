// Package chainerr provides the error taxonomy shared by the ledger packages.
// Every error a mutating operation returns carries one of the kinds below so
// callers can tell a misuse apart from a storage or consensus failure.
package chainerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error produced by the ledger.
type Kind int

// Set of error kinds.
const (
	Unknown Kind = iota
	InvalidInput
	ConsensusFailure
	StateError
	StorageError
	ContractError
)

// String implements the fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case ConsensusFailure:
		return "consensus failure"
	case StateError:
		return "state error"
	case StorageError:
		return "storage error"
	case ContractError:
		return "contract error"
	}
	return "unknown"
}

// =============================================================================

// Error wraps an underlying error with its kind.
type Error struct {
	Kind Kind
	Err  error
}

// New constructs an error of the specified kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil error returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap provides access to the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first Error found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether the error chain carries the specified kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
