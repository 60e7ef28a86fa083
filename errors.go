package keymap

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates input failed local validation. Such input is
	// never sent to the collaborator.
	ErrValidation = errors.New("validation error")

	// ErrRejected indicates the collaborator refused the request.
	ErrRejected = errors.New("rejected")

	// ErrUnauthenticated indicates there is no live session for a gated
	// operation, or the collaborator refused the bearer token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound indicates the requested project, schema or field does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates a remote call exceeded its time bound. It is
	// retryable.
	ErrTimeout = errors.New("timeout")

	// ErrMalformedResponse indicates the collaborator answered with a body
	// that could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrVerificationTimeout indicates verification polling gave up before
	// the account was confirmed.
	ErrVerificationTimeout = errors.New("verification not completed in time")

	// ErrCommitInProgress indicates a project cannot be reloaded while a
	// commit for it is outstanding.
	ErrCommitInProgress = errors.New("commit in progress")
)

// RejectionError carries the collaborator's explanation for a refusal.
// It unwraps to ErrRejected.
type RejectionError struct {
	Status int
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rejected with status %d", e.Status)
	}
	return e.Detail
}

// Unwrap returns ErrRejected.
func (e *RejectionError) Unwrap() error { return ErrRejected }

// Retryable reports whether err is a transport-class failure that may
// succeed if the same request is issued again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrRejected),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
