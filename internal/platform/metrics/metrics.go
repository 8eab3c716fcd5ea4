package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of both services. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	AuthSteps            *prometheus.CounterVec
	TokensIssued         *prometheus.CounterVec
	SessionsSwept        prometheus.Counter
	Introspections       *prometheus.CounterVec
	IntrospectLatency    prometheus.Histogram
	WebhookVerifications *prometheus.CounterVec
	UpstreamLatency      *prometheus.HistogramVec
	UpstreamBreakerOpen  *prometheus.GaugeVec
	RateLimited          *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// New creates all collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govsign_auth_steps_total",
			Help: "Authentication state machine steps by step and outcome",
		}, []string{"step", "outcome"}),
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govsign_tokens_issued_total",
			Help: "Access tokens issued by actor",
		}, []string{"actor"}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "govsign_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		}),
		Introspections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govsign_introspections_total",
			Help: "Token introspection results by outcome",
		}, []string{"outcome"}),
		IntrospectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "govsign_introspection_duration_seconds",
			Help:    "Latency of remote token introspection calls",
			Buckets: prometheus.DefBuckets,
		}),
		WebhookVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govsign_webhook_verifications_total",
			Help: "Webhook signature checks by peer and outcome",
		}, []string{"peer", "outcome"}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govsign_upstream_duration_seconds",
			Help:    "Latency of collaborator calls by upstream and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "outcome"}),
		UpstreamBreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "govsign_upstream_breaker_open",
			Help: "1 while the circuit breaker for an upstream is open",
		}, []string{"upstream"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govsign_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"service"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govsign_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveAuthStep(step, outcome string) {
	if m == nil {
		return
	}
	m.AuthSteps.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) IncrementTokensIssued(actor string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(actor).Inc()
}

func (m *Metrics) AddSessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) ObserveIntrospection(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Introspections.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.IntrospectLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveWebhook(peer, outcome string) {
	if m == nil {
		return
	}
	m.WebhookVerifications.WithLabelValues(peer, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(upstream, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(upstream, outcome).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerOpen(upstream string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.UpstreamBreakerOpen.WithLabelValues(upstream).Set(v)
}

func (m *Metrics) IncrementRateLimited(service string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(service).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
