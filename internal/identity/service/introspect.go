package service

import (
	"context"
	"time"

	"govsign/internal/identity/models"
	jwttoken "govsign/internal/jwt_token"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/audit"
	"govsign/pkg/requestcontext"
)

var errInvalidClient = dErrors.New(dErrors.CodeUnauthorized, "invalid client credentials")

// Introspect reports whether token is active for an authenticated resource server.
// Client authentication failures are errors; bad tokens are an inactive result.
func (s *Service) Introspect(ctx context.Context, clientID, clientSecret, token string) (*models.IntrospectionResult, error) {
	start := time.Now()
	if !s.authenticateClient(clientID, clientSecret) {
		s.metrics.ObserveIntrospection("client_rejected", time.Since(start))
		s.logger.WarnContext(ctx, "introspection client rejected",
			"client_id", clientID,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emit(ctx, audit.EventIntrospectDenied, clientID, audit.Event{Reason: "invalid client credentials"})
		return nil, errInvalidClient
	}
	if s.validator == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "introspection is not configured")
	}
	if token == "" {
		s.metrics.ObserveIntrospection("inactive", time.Since(start))
		return &models.IntrospectionResult{Active: false}, nil
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		s.metrics.ObserveIntrospection("inactive", time.Since(start))
		s.logger.DebugContext(ctx, "introspected token inactive",
			"client_id", clientID,
			"error", err,
		)
		return &models.IntrospectionResult{Active: false}, nil
	}

	s.metrics.ObserveIntrospection("active", time.Since(start))
	s.emit(ctx, audit.EventIntrospected, claims.Subject, audit.Event{
		Actor:  string(claims.Actor),
		Reason: "client " + clientID,
	})
	return jwttoken.ToIntrospection(claims), nil
}
