package domain

import (
	"context"
	"errors"
	"fmt"
)

// Attempt is one inbound verification request. It is never persisted.
type Attempt struct {
	SubjectID       string
	CredentialID    string
	Timestamp       string
	Signature       string
	DocumentPayload []byte
	FacePayload     []byte
}

// Outcome is the result of evaluating an Attempt.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeVerified
	OutcomeNotVerified
	OutcomeAlreadyVerified
	OutcomeMissingField
	OutcomeInvalidTimestamp
	OutcomeInvalidCredential
	OutcomeInvalidSignature
	OutcomeStaleRequest
	OutcomeRevoked
	OutcomeRateLimited
	OutcomeDecisionEngineUnavailable
	OutcomeIdempotencyStoreUnavailable
	OutcomeCancelled
)

var outcomeCodes = map[Outcome]string{
	OutcomeUnknown:                     "UNKNOWN",
	OutcomeVerified:                    "VERIFIED",
	OutcomeNotVerified:                 "NOT_VERIFIED",
	OutcomeAlreadyVerified:             "ALREADY_VERIFIED",
	OutcomeMissingField:                "MISSING_FIELD",
	OutcomeInvalidTimestamp:            "INVALID_TIMESTAMP",
	OutcomeInvalidCredential:           "INVALID_CREDENTIAL",
	OutcomeInvalidSignature:            "INVALID_SIGNATURE",
	OutcomeStaleRequest:                "STALE_REQUEST",
	OutcomeRevoked:                     "REVOKED",
	OutcomeRateLimited:                 "RATE_LIMITED",
	OutcomeDecisionEngineUnavailable:   "DECISION_ENGINE_UNAVAILABLE",
	OutcomeIdempotencyStoreUnavailable: "IDEMPOTENCY_STORE_UNAVAILABLE",
	OutcomeCancelled:                   "CANCELLED",
}

// String returns the wire code of the outcome.
func (o Outcome) String() string {
	code, ok := outcomeCodes[o]
	if !ok {
		return "UNKNOWN"
	}
	return code
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, code := range outcomeCodes {
		if code == string(text) {
			*o = outcome
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", string(text))
}

// IsDetermination reports whether the outcome is a completed decision by the engine.
func (o Outcome) IsDetermination() bool {
	return o == OutcomeVerified || o == OutcomeNotVerified
}

// IsTransient reports whether the caller may safely retry the same attempt.
func (o Outcome) IsTransient() bool {
	switch o {
	case OutcomeDecisionEngineUnavailable, OutcomeIdempotencyStoreUnavailable, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// Classify maps an error returned by the registry, verifier or collaborators
// to the outcome reported at the boundary.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, ErrNotFound):
		return OutcomeInvalidCredential
	case errors.Is(err, ErrMissingField):
		return OutcomeMissingField
	case errors.Is(err, ErrInvalidTimestamp):
		return OutcomeInvalidTimestamp
	case errors.Is(err, ErrInvalidSignature):
		return OutcomeInvalidSignature
	case errors.Is(err, ErrStaleRequest):
		return OutcomeStaleRequest
	case errors.Is(err, ErrCredentialRevoked):
		return OutcomeRevoked
	case errors.Is(err, ErrCredentialLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrDecisionEngine):
		return OutcomeDecisionEngineUnavailable
	case errors.Is(err, ErrIdempotencyStore):
		return OutcomeIdempotencyStoreUnavailable
	default:
		return OutcomeUnknown
	}
}
