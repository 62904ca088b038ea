package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/aswan/internal/domain"
)

var tracer = otel.Tracer("auth")

const tokenIssuer = "aswan"

// AuthService validates developer session tokens for the key management API.
type AuthService struct {
	config domain.Config
	key    []byte
}

func NewAuthService(
	config domain.Config,
	sessionSecret string,
) *AuthService {
	return &AuthService{
		config: config,
		key:    []byte(sessionSecret),
	}
}

type AuthResult struct {
	DeveloperID string
}

func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	if len(s.key) == 0 {
		err := fmt.Errorf("session secret is not configured")
		span.RecordError(err)
		return nil, err
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithAudience(s.config.FQDN),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		span.RecordError(errors.Wrap(err, "jwt validation failed"))
		return nil, err
	}

	if parsed.Subject() == "" {
		err := fmt.Errorf("token has no subject")
		span.RecordError(err)
		return nil, err
	}

	return &AuthResult{DeveloperID: parsed.Subject()}, nil
}

// IssueToken mints a session token for developerID valid for ttl.
func (s *AuthService) IssueToken(developerID string, ttl time.Duration) (string, error) {
	if len(s.key) == 0 {
		return "", fmt.Errorf("session secret is not configured")
	}
	if developerID == "" {
		return "", fmt.Errorf("developer id is required")
	}

	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Subject(developerID).
		Audience([]string{s.config.FQDN}).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", errors.Wrap(err, "failed to build token")
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return string(signed), nil
}
