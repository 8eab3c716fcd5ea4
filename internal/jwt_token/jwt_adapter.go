package jwttoken

import (
	"context"
	"strings"

	"govsign/internal/identity/models"
	authmw "govsign/pkg/platform/middleware/auth"
)

func ToPrincipal(claims *Claims) *authmw.Principal {
	return &authmw.Principal{
		Subject:     claims.Subject,
		Actor:       string(claims.Actor),
		OfficerType: claims.OfficerType,
		Scopes:      claims.Scopes,
	}
}

// ToIntrospection renders claims as an RFC 7662 active response.
func ToIntrospection(claims *Claims) *models.IntrospectionResult {
	res := &models.IntrospectionResult{
		Active:      true,
		Subject:     claims.Subject,
		Scope:       strings.Join(claims.Scopes, " "),
		Actor:       claims.Actor,
		OfficerType: claims.OfficerType,
		TokenType:   "access_token",
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		res.IssuedAt = claims.IssuedAt.Unix()
	}
	return res
}

// LocalVerifier verifies tokens with the signing key. Only the issuing authority holds it.
type LocalVerifier struct {
	service *JWTService
}

func NewLocalVerifier(service *JWTService) *LocalVerifier {
	return &LocalVerifier{service: service}
}

func (v *LocalVerifier) Verify(_ context.Context, token string) (*authmw.Principal, error) {
	claims, err := v.service.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return ToPrincipal(claims), nil
}
