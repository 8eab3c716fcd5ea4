package jwttoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"govsign/internal/identity/models"
	"govsign/internal/identity/scopes"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/requestcontext"
)

var (
	ErrTokenInvalid = dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	ErrTokenExpired = dErrors.New(dErrors.CodeUnauthorized, "token has expired")
)

// Claims is the access token payload. It is signed, not encrypted; nothing private
// belongs here.
type Claims struct {
	Actor       models.Actor `json:"actor"`
	OfficerType string       `json:"officerType,omitempty"`
	Scopes      []string     `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTService issues and verifies HS256 access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*JWTService)

// WithClock overrides the verification clock.
func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		s.now = now
	}
}

func NewJWTService(signingKey string, issuer string, ttl time.Duration, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime given to every issued token.
func (s *JWTService) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for identity with its derived scopes. Issue time comes from the
// request context so the token agrees with the session it completes.
func (s *JWTService) Issue(ctx context.Context, identity models.Identity) (string, error) {
	now := requestcontext.Now(ctx)
	claims := Claims{
		Actor:  identity.Actor,
		Scopes: scopes.Derive(identity),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.NIC,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	}
	if identity.IsOfficer() {
		claims.OfficerType = identity.OfficerType.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// ValidateToken checks signature and expiry. An expired token with a valid signature
// fails with ErrTokenExpired; every other failure is ErrTokenInvalid.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
