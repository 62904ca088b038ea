package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
	"github.com/totegamma/aswan/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth   *service.AuthService
	config domain.Config
}

func NewAuthMiddleware(
	auth *service.AuthService,
	config domain.Config,
) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   auth,
		config: config,
	}
}

// IdentifyDeveloper attaches the developer id of a valid session token to the
// request context. Requests without a valid token pass through anonymously.
func (s *AuthMiddleware) IdentifyDeveloper(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyDeveloper")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")

		// websocket clients cannot set headers, so /realtime also accepts ?token=
		token := ""
		if authHeader != "" {
			split := strings.Split(authHeader, " ")
			if len(split) != 2 {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				goto skipCheckAuthorization
			}

			authType := split[0]
			if authType != "Bearer" {
				span.RecordError(fmt.Errorf("only Bearer is acceptable"))
				goto skipCheckAuthorization
			}
			token = split[1]
		} else {
			token = c.QueryParam("token")
		}

		if token != "" {
			result, err := s.auth.AuthJwt(ctx, token)
			if err != nil {
				span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyDeveloper: s.auth.AuthJwt failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, result.DeveloperID)
			span.SetAttributes(attribute.String("RequesterId", result.DeveloperID))
		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireDeveloper rejects requests that IdentifyDeveloper did not authenticate.
func RequireDeveloper(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := RequesterID(c.Request().Context()); !ok {
			return c.JSON(http.StatusUnauthorized, aswan.ErrorResponse{
				Code:  "UNAUTHORIZED",
				Error: "a developer session is required",
			})
		}
		return next(c)
	}
}

func RequesterID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(domain.RequesterIdCtxKey).(string)
	return id, ok && id != ""
}
