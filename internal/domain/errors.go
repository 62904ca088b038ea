package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

var (
	ErrInvalidName       = errors.New("invalid credential name")
	ErrIllegalTransition = errors.New("illegal status transition")

	ErrMissingField      = errors.New("missing required field")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrStaleRequest      = errors.New("request timestamp outside freshness window")
	ErrCredentialRevoked = errors.New("credential revoked")
	ErrCredentialLimited = errors.New("credential rate limited")

	ErrDecisionEngine   = errors.New("decision engine unavailable")
	ErrIdempotencyStore = errors.New("idempotency store unavailable")
)
