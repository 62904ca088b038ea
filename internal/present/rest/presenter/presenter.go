package presenter

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
)

// StatusClientClosedRequest is the nginx convention for a request the client abandoned.
const StatusClientClosedRequest = 499

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

func BadRequest(c echo.Context, err error) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", err.Error()), slog.String("module", domain.ModuleRest))
	return c.JSON(http.StatusBadRequest, aswan.ErrorResponse{Code: "BAD_REQUEST", Error: err.Error()})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, aswan.ErrorResponse{Code: "NOT_FOUND", Error: msg})
}

func Conflict(c echo.Context, msg string) error {
	return c.JSON(http.StatusConflict, aswan.ErrorResponse{Code: "CONFLICT", Error: msg})
}

func Unavailable(c echo.Context, msg string) error {
	return c.JSON(http.StatusServiceUnavailable, aswan.ErrorResponse{Code: "UNAVAILABLE", Error: msg})
}

func InternalError(c echo.Context, err error) error {
	slog.ErrorContext(c.Request().Context(), "internal error", slog.String("error", err.Error()), slog.String("module", domain.ModuleRest))
	return c.JSON(http.StatusInternalServerError, aswan.ErrorResponse{Code: "INTERNAL", Error: "internal error"})
}

// OutcomeStatus maps a gateway outcome to its HTTP status.
func OutcomeStatus(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomeVerified, domain.OutcomeNotVerified:
		return http.StatusOK
	case domain.OutcomeAlreadyVerified:
		return http.StatusConflict
	case domain.OutcomeMissingField, domain.OutcomeInvalidTimestamp:
		return http.StatusBadRequest
	case domain.OutcomeInvalidCredential, domain.OutcomeInvalidSignature, domain.OutcomeStaleRequest:
		return http.StatusUnauthorized
	case domain.OutcomeRevoked:
		return http.StatusForbidden
	case domain.OutcomeRateLimited:
		return http.StatusTooManyRequests
	case domain.OutcomeDecisionEngineUnavailable, domain.OutcomeIdempotencyStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.OutcomeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Outcome writes the response for a gateway outcome. Determinations carry a
// status body, everything else the error code envelope.
func Outcome(c echo.Context, outcome domain.Outcome, err error) error {
	if outcome.IsDetermination() {
		return c.JSON(http.StatusOK, aswan.VerifyResponse{Status: outcome.String()})
	}

	msg, ok := outcomeMessages[outcome]
	if !ok {
		msg = outcome.String()
	}
	// field-level problems are safe to echo back
	if err != nil && (outcome == domain.OutcomeMissingField || outcome == domain.OutcomeInvalidTimestamp) {
		msg = err.Error()
	}
	return c.JSON(OutcomeStatus(outcome), aswan.ErrorResponse{Code: outcome.String(), Error: msg})
}

var outcomeMessages = map[domain.Outcome]string{
	domain.OutcomeAlreadyVerified:             "user already verified",
	domain.OutcomeInvalidCredential:           "invalid api key",
	domain.OutcomeInvalidSignature:            "signature mismatch",
	domain.OutcomeStaleRequest:                "timestamp outside the accepted window",
	domain.OutcomeRevoked:                     "api key has been revoked",
	domain.OutcomeRateLimited:                 "api key is rate limited",
	domain.OutcomeDecisionEngineUnavailable:   "verification temporarily unavailable, retry later",
	domain.OutcomeIdempotencyStoreUnavailable: "verification temporarily unavailable, retry later",
	domain.OutcomeCancelled:                   "request cancelled",
}
