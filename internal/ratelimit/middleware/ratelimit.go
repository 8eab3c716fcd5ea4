package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"govsign/internal/platform/metrics"
	"govsign/internal/ratelimit/models"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/audit"
	"govsign/pkg/platform/httputil"
	"govsign/pkg/requestcontext"
)

// BucketStore admits or rejects one request for a key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Middleware limits requests per client IP over a sliding window.
type Middleware struct {
	store          BucketStore
	service        string
	limit          int
	window         time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	disabled       bool
}

type Option func(*Middleware)

func WithWindow(window time.Duration) Option {
	return func(m *Middleware) {
		m.window = window
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Middleware) {
		m.auditPublisher = p
	}
}

// WithDisabled disables rate limiting entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// New builds a limiter admitting limit requests per window (default one minute) per
// client IP. A non-positive limit disables limiting.
func New(store BucketStore, service string, limit int, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:   store,
		service: service,
		limit:   limit,
		window:  time.Minute,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if limit <= 0 {
		m.disabled = true
	}
	if m.disabled {
		logger.Info("rate limiting disabled", "service", service)
	}
	return m
}

// RateLimit fails open: a store error lets the request through and is logged.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		result, err := m.store.Allow(ctx, models.Key(m.service, ip), m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.rejected(ctx, ip)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "rate limit exceeded, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) rejected(ctx context.Context, ip string) {
	m.metrics.IncrementRateLimited(m.service)
	m.logger.WarnContext(ctx, "rate limit exceeded",
		"service", m.service,
		"request_id", requestcontext.RequestID(ctx),
	)
	if m.auditPublisher == nil {
		return
	}
	err := m.auditPublisher.Emit(ctx, audit.Event{
		Category: audit.EventRateLimitExceeded.Category(),
		Action:   string(audit.EventRateLimitExceeded),
		Subject:  ip,
		Reason:   m.service,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
