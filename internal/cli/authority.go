package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"govsign/internal/identity/handler"
	"govsign/internal/identity/service"
	registrystore "govsign/internal/identity/store/registry"
	sessionstore "govsign/internal/identity/store/session"
	jwttoken "govsign/internal/jwt_token"
	"govsign/internal/platform/config"
	"govsign/internal/platform/health"
	"govsign/internal/platform/httpserver"
	"govsign/internal/platform/logger"
	"govsign/internal/platform/metrics"
	platformredis "govsign/internal/platform/redis"
	ratelimitmw "govsign/internal/ratelimit/middleware"
	"govsign/internal/ratelimit/store/bucket"
)

const authorityService = "sludi"

func newAuthorityCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "authority",
		Short: "Run the identity authority",
		Long: `Run the identity authority: NIC sessions, fingerprint and password steps, token
issuance, RFC 7662 introspection for the gateway and, in development, registry seeding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuthority(); err != nil {
				return err
			}
			return runAuthority(cmd.Context(), cfg)
		},
	}
}

func runAuthority(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.LogLevel, authorityService)
	reg := newRegistry()
	m := metrics.New(reg)
	ac := cfg.Authority

	rdb, err := platformredis.New(ctx, ac.RedisURL)
	if err != nil {
		return err
	}
	var checks []health.Check
	var sessions service.SessionStore = sessionstore.New()
	var limiterStore ratelimitmw.BucketStore
	memoryLimiter := bucket.NewInMemoryBucketStore()
	if rdb != nil {
		defer rdb.Close()
		sessions = sessionstore.NewRedis(rdb.Client)
		limiterStore = bucket.NewRedisStore(rdb.Client)
		checks = append(checks, health.Check{Name: "redis", Probe: rdb.Health})
		log.Info("sessions and rate limits backed by redis")
	} else {
		limiterStore = memoryLimiter
	}

	var registry service.IdentityRegistry = registrystore.New()
	if ac.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, ac.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		pg := registrystore.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure registry schema: %w", err)
		}
		registry = pg
		checks = append(checks, health.Check{Name: "postgres", Probe: pool.Ping})
		log.Info("identity registry backed by postgres")
	}

	clients, err := config.ParseClientCredentials(ac.IntrospectClients)
	if err != nil {
		return err
	}

	eventPub, err := newEventPublisher(ctx, cfg.Events, log)
	if err != nil {
		return err
	}
	defer eventPub.Close()
	auditPub := newAuditPublisher(eventPub, authorityService, log)
	defer auditPub.Close()

	tokens := jwttoken.NewJWTService(ac.JWTSecret, ac.Issuer, ac.TokenTTL)
	svc, err := service.New(sessions, registry, tokens,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPub),
		service.WithSessionTTL(ac.SessionTTL),
		service.WithDevAdmin(ac.DevAdmin),
		service.WithTokenValidator(tokens),
		service.WithIntrospectionClients(clients),
	)
	if err != nil {
		return err
	}
	if ac.DevAdmin {
		log.Warn("registry seeding endpoint enabled")
	}

	limiter := ratelimitmw.New(limiterStore, authorityService, ac.RateLimitPerMinute, log,
		ratelimitmw.WithMetrics(m),
		ratelimitmw.WithAuditPublisher(auditPub),
	)
	router := newRouter(cfg, authorityService, log, m, reg, checks...)
	router.Group(func(r chi.Router) {
		r.Use(limiter.RateLimit)
		handler.New(svc, log,
			handler.WithTokenVerifier(jwttoken.NewLocalVerifier(tokens)),
			handler.WithAdminToken(ac.AdminToken),
		).Register(r)
	})

	srv := httpserver.New(ac.Addr, router)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, shutdownTimeout, log)
	})
	g.Go(func() error {
		return every(gctx, ac.SweepInterval, func(ctx context.Context) {
			sweep(ctx, svc, memoryLimiter, log)
		})
	})
	return g.Wait()
}

func sweep(ctx context.Context, svc *service.Service, limiter *bucket.InMemoryBucketStore, log *slog.Logger) {
	now := time.Now()
	if _, err := svc.SweepExpired(ctx, now); err != nil {
		log.ErrorContext(ctx, "session sweep failed", "error", err)
	}
	limiter.Prune(now)
}
