// Package errs provides types and support related to web v1 functionality.
package errs

import (
	"errors"
	"net/http"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap returns the wrapped error.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}

// FromChain converts a ledger error into a trusted error with the status
// matching its kind. Errors without a kind are returned unchanged.
func FromChain(err error) error {
	kind := chainerr.KindOf(err)
	if kind == chainerr.Unknown {
		return err
	}
	return NewTrusted(err, StatusOf(kind))
}

// StatusOf maps a ledger error kind to an HTTP status.
func StatusOf(kind chainerr.Kind) int {
	switch kind {
	case chainerr.InvalidInput:
		return http.StatusBadRequest
	case chainerr.ContractError:
		return http.StatusUnprocessableEntity
	case chainerr.StateError, chainerr.ConsensusFailure:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
