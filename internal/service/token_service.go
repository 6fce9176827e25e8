package service

import (
	"errors"
	"fmt"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"

	"github.com/golang-jwt/jwt/v5"
)

// collaboratorAudience is the aud claim every bearer token for the payment routes carries.
const collaboratorAudience = "payments"

var errEmptySubject = errors.New("subject is required")

// JWTTokenService issues and checks the HS256 bearer tokens collaborator
// services present on the push and status routes.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	clock  clock.Clock
}

var _ ports.TokenService = (*JWTTokenService)(nil)

func NewJWTTokenService(cfg config.JWTConfig, clk clock.Clock) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(cfg.Secret),
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
		clock:  clk,
	}
}

// Generate mints a token for the named collaborator.
func (s *JWTTokenService) Generate(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errEmptySubject
	}
	issuedAt := s.clock.Now()
	expiresAt := issuedAt.Add(s.expiry)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{collaboratorAudience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks signature, issuer, audience and expiry against the service clock.
func (s *JWTTokenService) Validate(raw string) (*ports.TokenClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(collaboratorAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errEmptySubject
	}
	return &ports.TokenClaims{Subject: claims.Subject}, nil
}
