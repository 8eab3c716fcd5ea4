package cli

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"govsign/internal/gateway/handler"
	"govsign/internal/gateway/introspection"
	"govsign/internal/gateway/upstream"
	"govsign/internal/gateway/webhook"
	"govsign/internal/platform/config"
	"govsign/internal/platform/httpserver"
	"govsign/internal/platform/logger"
	"govsign/internal/platform/metrics"
	ratelimitmw "govsign/internal/ratelimit/middleware"
	"govsign/internal/ratelimit/store/bucket"
)

const (
	gatewayService      = "gateway"
	introspectCacheSize = 4096
	limiterPruneEvery   = time.Minute
)

func newGatewayCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the service gateway",
		Long: `Run the service gateway. Bearer tokens are resolved by introspection against the
authority; the gateway never holds the token signing secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateGateway(); err != nil {
				return err
			}
			return runGateway(cmd.Context(), cfg)
		},
	}
}

func runGateway(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, gatewayService)
	reg := newRegistry()
	m := metrics.New(reg)
	gc := cfg.Gateway

	verifier, err := introspection.NewRemoteVerifier(introspection.Config{
		BaseURL:      gc.SludiBaseURL,
		Path:         gc.IntrospectPath,
		ClientID:     gc.ClientID,
		ClientSecret: gc.ClientSecret,
		Timeout:      gc.IntrospectTimeout,
		CacheTTL:     gc.IntrospectCacheTTL,
		CacheSize:    introspectCacheSize,
	}, introspection.WithLogger(log), introspection.WithMetrics(m))
	if err != nil {
		return err
	}

	ndx, err := upstream.NewNDX(upstream.Config{
		BaseURL: gc.NDXBaseURL,
		APIKey:  gc.NDXAPIKey,
		Timeout: gc.UpstreamTimeout,
	}, upstream.WithLogger(log), upstream.WithMetrics(m))
	if err != nil {
		return err
	}
	paydpi, err := upstream.NewPayDPI(upstream.Config{
		BaseURL: gc.PayDPIBaseURL,
		APIKey:  gc.PayDPIAPIKey,
		Timeout: gc.UpstreamTimeout,
	}, upstream.WithLogger(log), upstream.WithMetrics(m))
	if err != nil {
		return err
	}

	webhooks := webhook.NewVerifier(map[string]string{
		handler.PeerNDX:    gc.WebhookSecretNDX,
		handler.PeerPayDPI: gc.WebhookSecretPay,
	})
	if len(webhooks.Peers()) < 2 {
		log.Warn("webhook secret missing, deliveries from unconfigured peers are rejected",
			"configured", webhooks.Peers(),
		)
	}

	eventPub, err := newEventPublisher(ctx, cfg.Events, log)
	if err != nil {
		return err
	}
	defer eventPub.Close()
	auditPub := newAuditPublisher(eventPub, gatewayService, log)
	defer auditPub.Close()

	h, err := handler.New(ndx, paydpi, verifier, webhooks, eventPub, log,
		handler.WithMetrics(m),
		handler.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return err
	}

	limiterStore := bucket.NewInMemoryBucketStore()
	limiter := ratelimitmw.New(limiterStore, gatewayService, gc.RateLimitPerMinute, log,
		ratelimitmw.WithMetrics(m),
		ratelimitmw.WithAuditPublisher(auditPub),
	)
	router := newRouter(cfg, gatewayService, log, m, reg)
	router.Group(func(r chi.Router) {
		r.Use(limiter.RateLimit)
		h.Register(r)
	})

	srv := httpserver.New(gc.Addr, router)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, shutdownTimeout, log)
	})
	g.Go(func() error {
		return every(gctx, limiterPruneEvery, func(context.Context) {
			limiterStore.Prune(time.Now())
		})
	})
	return g.Wait()
}
