// Package auth holds the bearer-token authorization middleware shared by both services.
//
// RequireAuth resolves the bearer credential through a TokenVerifier (local signature
// check on the authority, remote introspection on the gateway) and attaches the
// resulting Principal to the request context. RequireScope composes after it.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/httputil"
	"govsign/pkg/requestcontext"
)

// Principal is the authenticated caller resolved from a token.
type Principal struct {
	Subject     string
	Actor       string
	OfficerType string
	Scopes      []string
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// TokenVerifier resolves a raw bearer token. Any error means the token is not usable.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the principal set by RequireAuth.
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// GetSubject returns the authenticated subject, or "" when unauthenticated.
func GetSubject(ctx context.Context) string {
	if p, ok := GetPrincipal(ctx); ok {
		return p.Subject
	}
	return ""
}

var (
	errMissingToken = dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
	errInvalidToken = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	errMissingScope = dErrors.New(dErrors.CodeForbidden, "insufficient scope")
)

// BearerToken extracts the credential from an `Authorization: Bearer <token>` header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth rejects requests without a verifiable bearer token.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, errMissingToken)
				return
			}

			principal, err := verifier.Verify(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, errInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireScope rejects authenticated principals lacking scope. Mount it after
// RequireAuth; without a principal it answers 401 so the required scope is not revealed.
func RequireScope(scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := GetPrincipal(ctx)
			if !ok {
				httputil.WriteError(w, errMissingToken)
				return
			}
			if !principal.HasScope(scope) {
				logger.WarnContext(ctx, "forbidden - missing scope",
					"sub", principal.Subject,
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, errMissingScope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
