// Package introspection verifies bearer tokens by asking the issuing authority.
//
// The gateway does not hold the signing secret. It forwards each token to the
// authority's RFC 7662 endpoint with its own client credentials and trusts only an
// active=true reply. Active results are cached briefly, keyed by a hash of the token.
package introspection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"govsign/internal/platform/metrics"
	dErrors "govsign/pkg/domain-errors"
	authmw "govsign/pkg/platform/middleware/auth"
	"govsign/pkg/platform/telemetry"
	"govsign/pkg/requestcontext"
)

const tracerName = "govsign/gateway/introspection"

var (
	ErrTokenInactive       = dErrors.New(dErrors.CodeUnauthorized, "token is not active")
	ErrIntrospectionFailed = dErrors.New(dErrors.CodeUnauthorized, "token introspection failed")
)

// Response is the subset of the RFC 7662 reply the gateway uses.
type Response struct {
	Active      bool   `json:"active"`
	Subject     string `json:"sub"`
	Scope       string `json:"scope"`
	Actor       string `json:"actor"`
	OfficerType string `json:"officer_type"`
	ExpiresAt   int64  `json:"exp"`
}

// Config locates the authority and authenticates the gateway to it.
type Config struct {
	BaseURL      string
	Path         string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	CacheTTL     time.Duration
	CacheSize    int
}

// RemoteVerifier implements auth.TokenVerifier over HTTP introspection.
type RemoteVerifier struct {
	endpoint     string
	clientID     string
	clientSecret string
	timeout      time.Duration
	httpClient   *http.Client
	cache        *expirable.LRU[string, authmw.Principal]
	cacheTTL     time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*RemoteVerifier)

func WithHTTPClient(c *http.Client) Option {
	return func(v *RemoteVerifier) {
		v.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *RemoteVerifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *RemoteVerifier) {
		v.metrics = m
	}
}

// NewRemoteVerifier validates cfg and builds a verifier. A zero CacheTTL disables caching.
func NewRemoteVerifier(cfg Config, opts ...Option) (*RemoteVerifier, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("introspection base url %q is invalid", cfg.BaseURL)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("introspection client credentials are required")
	}
	path := cfg.Path
	if path == "" {
		path = "/oauth2/introspect"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	v := &RemoteVerifier{
		endpoint:     strings.TrimRight(base.String(), "/") + "/" + strings.TrimLeft(path, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      timeout,
		httpClient:   &http.Client{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = 10_000
		}
		v.cache = expirable.NewLRU[string, authmw.Principal](size, nil, cfg.CacheTTL)
		v.cacheTTL = cfg.CacheTTL
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify resolves token to a principal. Inactive tokens, non-2xx replies, timeouts
// and undecodable bodies all fail; none are retried.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (principal *authmw.Principal, err error) {
	if token == "" {
		return nil, ErrTokenInactive
	}

	key := cacheKey(token)
	if v.cache != nil {
		if cached, ok := v.cache.Get(key); ok {
			v.metrics.ObserveIntrospection("cache_hit", 0)
			return clonePrincipal(cached), nil
		}
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "introspection.Verify")
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		v.metrics.ObserveIntrospection(outcome(err), time.Since(start))
	}()

	res, err := v.introspect(ctx, token)
	if err != nil {
		v.logger.WarnContext(ctx, "token introspection failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, ErrIntrospectionFailed.Message)
	}
	if !res.Active || res.Subject == "" {
		return nil, ErrTokenInactive
	}
	span.SetAttributes(attribute.String(telemetry.AttrActor, res.Actor))

	p := authmw.Principal{
		Subject:     res.Subject,
		Actor:       res.Actor,
		OfficerType: res.OfficerType,
		Scopes:      strings.Fields(res.Scope),
	}
	// A cached entry must not outlive the token.
	if v.cache != nil && !expiresWithin(res.ExpiresAt, time.Now(), v.cacheTTL) {
		v.cache.Add(key, p)
	}
	return clonePrincipal(p), nil
}

// clonePrincipal copies p so callers cannot reach the cached scope slice.
func clonePrincipal(p authmw.Principal) *authmw.Principal {
	p.Scopes = slices.Clone(p.Scopes)
	return &p
}

func (v *RemoteVerifier) introspect(ctx context.Context, token string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(v.clientID, v.clientSecret)
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call authority: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("authority replied %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	return &out, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// expiresWithin reports whether a unix exp is set and falls before now+d.
func expiresWithin(exp int64, now time.Time, d time.Duration) bool {
	return exp != 0 && time.Unix(exp, 0).Before(now.Add(d))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "active"
	case errors.Is(err, ErrTokenInactive):
		return "inactive"
	default:
		return "error"
	}
}
