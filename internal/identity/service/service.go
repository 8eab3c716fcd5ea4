package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"govsign/internal/identity/models"
	jwttoken "govsign/internal/jwt_token"
	"govsign/internal/platform/metrics"
	"govsign/pkg/platform/audit"
)

const tracerName = "govsign/identity"

// SessionStore persists sessions. Execute must run validate and mutate atomically
// with respect to other Execute calls on the same id, and write nothing when
// validate fails.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id models.SessionID) (*models.Session, error)
	Execute(ctx context.Context, id models.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// IdentityRegistry holds identity records by NIC. SetPasswordIfAbsent is the one
// registry write the state machine performs; it returns sentinel.ErrConflict when
// the record already has a password or is not a citizen. ClearPasswordIfMatches
// undoes that write when the session commit after it fails.
type IdentityRegistry interface {
	FindByNIC(ctx context.Context, nic string) (*models.Identity, error)
	Upsert(ctx context.Context, identity *models.Identity) error
	SetPasswordIfAbsent(ctx context.Context, nic string, hash []byte, now time.Time) error
	ClearPasswordIfMatches(ctx context.Context, nic string, hash []byte) error
}

// TokenIssuer mints access tokens carrying the identity's derived scopes.
type TokenIssuer interface {
	Issue(ctx context.Context, identity models.Identity) (string, error)
}

// TokenValidator checks tokens for the introspection endpoint.
type TokenValidator interface {
	ValidateToken(token string) (*jwttoken.Claims, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs the authentication state machine:
//
//	ValidateNIC -> NIC_VALIDATED -> VerifyFingerprint (officer) -> AUTHENTICATED
//	                             -> VerifyPassword    (citizen) -> AUTHENTICATED
//	                             -> CreatePassword    (citizen) -> ACCOUNT_CREATED
//
// Both end states are terminal.
type Service struct {
	sessions  SessionStore
	registry  IdentityRegistry
	tokens    TokenIssuer
	validator TokenValidator

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher

	sessionTTL        time.Duration
	newChallenge      func() string
	bcryptCost        int
	devAdmin          bool
	introspectClients map[string]string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithSessionTTL sets how long a session stays usable after ValidateNIC.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func WithChallengeGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newChallenge = gen
	}
}

// WithBcryptCost overrides the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithDevAdmin enables registry seeding through UpsertIdentity.
func WithDevAdmin(enabled bool) Option {
	return func(s *Service) {
		s.devAdmin = enabled
	}
}

// WithTokenValidator enables Introspect.
func WithTokenValidator(v TokenValidator) Option {
	return func(s *Service) {
		s.validator = v
	}
}

// WithIntrospectionClients sets the client id to secret map allowed to introspect.
func WithIntrospectionClients(clients map[string]string) Option {
	return func(s *Service) {
		s.introspectClients = clients
	}
}

// New constructs a Service. The stores and the token issuer are required.
func New(sessions SessionStore, registry IdentityRegistry, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if registry == nil {
		return nil, errors.New("identity registry is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	s := &Service{
		sessions:     sessions,
		registry:     registry,
		tokens:       tokens,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		sessionTTL:   10 * time.Minute,
		newChallenge: defaultChallenge,
		bcryptCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// defaultChallenge is six characters of a random UUID.
func defaultChallenge() string {
	return uuid.NewString()[:6]
}

// SweepExpired removes expired sessions from stores that do not expire keys themselves.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.sessions.Sweep(ctx, now)
	if err != nil {
		return 0, err
	}
	s.metrics.AddSessionsSwept(n)
	if n > 0 {
		s.logger.DebugContext(ctx, "expired sessions swept", "count", n)
	}
	return n, nil
}

func (s *Service) authenticateClient(clientID, secret string) bool {
	expected, ok := s.introspectClients[clientID]
	if !ok || clientID == "" {
		// Unknown ids still pay for one comparison.
		subtle.ConstantTimeCompare([]byte(secret), []byte(secret))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(secret)) == 1
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, subject string, fields audit.Event) {
	fields.Category = event.Category()
	fields.Action = string(event)
	fields.Subject = subject
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, fields); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", string(event),
			"error", err,
		)
	}
}
