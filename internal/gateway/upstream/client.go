// Package upstream calls the collaborator services the gateway fronts: NDX for
// workflow processes and PayDPI for payments.
//
// Every call carries the peer's x-api-key, is bounded by a per-call timeout and is
// guarded by a circuit breaker. Any failure surfaces as an upstream_error; calls are
// never retried here.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"govsign/internal/platform/metrics"
	dErrors "govsign/pkg/domain-errors"
	"govsign/pkg/platform/circuit"
	"govsign/pkg/platform/telemetry"
	"govsign/pkg/requestcontext"
)

const (
	tracerName       = "govsign/gateway/upstream"
	maxResponseBytes = 1 << 20
)

var errCircuitOpen = errors.New("circuit open")

// statusError is a non-2xx reply from a collaborator.
type statusError struct {
	peer   string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s replied %d", e.peer, e.status)
}

// Config locates one collaborator.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a JSON client for one collaborator.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

func newClient(name string, cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s base url %q is invalid", name, cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		name:       name,
		baseURL:    strings.TrimRight(base.String(), "/"),
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		breaker:    circuit.New(name),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the collaborator in logs and metrics.
func (c *Client) Name() string {
	return c.name
}

// do sends body as JSON (when non-nil) and returns the raw JSON reply. failMsg is the
// caller-facing detail of the upstream_error returned on any failure.
func (c *Client) do(ctx context.Context, method, path string, body any, failMsg string) (_ json.RawMessage, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, c.name+"."+method,
		attribute.String(telemetry.AttrUpstream, c.name),
	)
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if !c.breaker.Allow() {
		c.metrics.ObserveUpstream(c.name, "circuit_open", 0)
		c.logger.WarnContext(ctx, "upstream circuit open",
			"upstream", c.name,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(errCircuitOpen, dErrors.CodeUpstream, failMsg)
	}

	raw, callErr := c.roundTrip(ctx, method, path, body)
	elapsed := time.Since(start)
	if callErr != nil {
		switch {
		case ctx.Err() != nil:
			c.metrics.ObserveUpstream(c.name, "cancelled", elapsed)
		case isPeerFault(callErr):
			_, change := c.breaker.RecordFailure()
			if change.Opened {
				c.metrics.SetBreakerOpen(c.name, true)
				c.logger.ErrorContext(ctx, "upstream circuit opened", "upstream", c.name)
			}
			c.metrics.ObserveUpstream(c.name, "error", elapsed)
		default:
			c.recordSuccess(ctx)
			c.metrics.ObserveUpstream(c.name, "rejected", elapsed)
		}
		c.logger.ErrorContext(ctx, "upstream call failed",
			"upstream", c.name,
			"method", method,
			"path", path,
			"error", callErr,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(callErr, dErrors.CodeUpstream, failMsg)
	}

	c.recordSuccess(ctx)
	c.metrics.ObserveUpstream(c.name, "success", elapsed)
	return raw, nil
}

// isPeerFault reports whether err says the collaborator is unhealthy: transport
// errors, timeouts, 5xx replies and malformed bodies. A 4xx reply does not.
func isPeerFault(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError
	}
	return true
}

func (c *Client) recordSuccess(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.metrics.SetBreakerOpen(c.name, false)
		c.logger.InfoContext(ctx, "upstream circuit closed", "upstream", c.name)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{peer: c.name, status: resp.StatusCode}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s replied with invalid JSON", c.name)
	}
	return json.RawMessage(data), nil
}

func escape(id string) string {
	return url.PathEscape(id)
}
