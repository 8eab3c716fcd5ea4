package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"govsign/internal/platform/config"
	"govsign/internal/platform/health"
	"govsign/internal/platform/metrics"
	"govsign/internal/platform/middleware"
	auditpublisher "govsign/pkg/platform/audit/publisher"
	"govsign/pkg/platform/audit/store/eventsink"
	auditmemory "govsign/pkg/platform/audit/store/memory"
	"govsign/pkg/platform/events"
)

const (
	shutdownTimeout = 10 * time.Second
	auditBuffer     = 1024
	topicPartitions = 3
)

func loadConfig(configFile string) (*config.Config, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// newRegistry returns a registry carrying the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newEventPublisher connects to Kafka when brokers are configured, otherwise events
// are only logged.
func newEventPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no kafka brokers configured, events are logged only")
		return events.NewLogPublisher(logger), nil
	}
	kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kp.Ping(setupCtx); err != nil {
		_ = kp.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}
	if err := kp.EnsureTopic(setupCtx, topicPartitions, 1); err != nil {
		logger.Warn("ensure kafka topic failed", "topic", cfg.Topic, "error", err)
	}
	logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.Topic)
	return kp, nil
}

// newAuditPublisher keeps recent audit events in memory and mirrors them to the
// event stream.
func newAuditPublisher(publisher events.Publisher, source string, logger *slog.Logger) *auditpublisher.Publisher {
	return auditpublisher.NewPublisher(auditmemory.NewInMemoryStore(),
		auditpublisher.WithAsyncBuffer(auditBuffer),
		auditpublisher.WithMirror(eventsink.New(publisher, source)),
		auditpublisher.WithLogger(logger),
	)
}

// newRouter installs the shared middleware stack plus the health and metrics endpoints.
func newRouter(
	cfg *config.Config,
	service string,
	logger *slog.Logger,
	m *metrics.Metrics,
	reg *prometheus.Registry,
	checks ...health.Check,
) *chi.Mux {
	r := chi.NewRouter()
	middleware.Use(r, logger, m, cfg.CORSOrigins)
	r.Get("/health", health.Handler(service, cfg.Env, checks...))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

// every runs fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
