// Server runs the auth HTTP API and the gRPC health service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"helpdesk-auth/backend/internal/audit"
	auditrepo "helpdesk-auth/backend/internal/audit/repository"
	"helpdesk-auth/backend/internal/config"
	"helpdesk-auth/backend/internal/db"
	healthhandler "helpdesk-auth/backend/internal/health/handler"
	identityhandler "helpdesk-auth/backend/internal/identity/handler"
	identityservice "helpdesk-auth/backend/internal/identity/service"
	"helpdesk-auth/backend/internal/logging"
	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/server"
	"helpdesk-auth/backend/internal/session/cache"
	"helpdesk-auth/backend/internal/session/invalidation"
	"helpdesk-auth/backend/internal/session/janitor"
	sessionrepo "helpdesk-auth/backend/internal/session/repository"
	sessionservice "helpdesk-auth/backend/internal/session/service"
	"helpdesk-auth/backend/internal/telemetry"
	otelsetup "helpdesk-auth/backend/internal/telemetry/otel"
	userrepo "helpdesk-auth/backend/internal/user/repository"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.WithError(err).Warn("otel shutdown")
		}
	}()
	providers.SetGlobal()
	if providers.Exporting {
		logger.AddHook(logging.NewOTelHook(providers.LoggerProvider.Logger(cfg.ServiceName), logrus.InfoLevel))
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	secret, ephemeral, err := cfg.SigningSecret()
	if err != nil {
		return fmt.Errorf("session secret: %w", err)
	}
	if ephemeral {
		logger.Warn("SESSION_SECRET not set; using an ephemeral signing secret, bearer proofs will not survive a restart")
	}
	codec, err := security.NewProofCodec(secret, cfg.SessionIssuer, cfg.SessionAudience)
	if err != nil {
		return err
	}
	validationCache, err := cache.New(cfg.CacheSize, cfg.CacheTTL())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	inst, err := telemetry.NewInstrumentation(reg, providers.MeterProvider, providers.TracerProvider)
	if err != nil {
		return err
	}
	telemetry.RegisterCacheGauges(reg, func() telemetry.CacheStats {
		s := validationCache.Stats()
		return telemetry.CacheStats{Hits: s.Hits, Misses: s.Misses, Invalidations: s.Invalidations, Size: s.Size}
	})

	users := userrepo.NewPostgresRepository(pool)
	sessions := sessionrepo.NewPostgresRepository(pool)
	events := auditrepo.NewPostgresRepository(pool)
	validator := sessionservice.NewValidator(codec, validationCache, sessions, sessionservice.Options{
		StoreTimeout:    cfg.StoreTimeout(),
		Logger:          logger,
		Instrumentation: inst,
	})

	g, gctx := errgroup.WithContext(ctx)
	pingers := map[string]healthhandler.Pinger{"database": pool}
	var bus invalidation.Broadcaster = invalidation.Nop{}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		redisBus := invalidation.NewRedisBus(rdb, cfg.InvalidationChannel, logger)
		listener, err := redisBus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("redis subscribe: %w", err)
		}
		defer listener.Close()
		g.Go(func() error {
			if err := listener.Run(gctx, validationCache); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		bus = redisBus
		pingers["redis"] = healthhandler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	auth := identityservice.NewAuthService(users, sessions, validator, security.NewHasher(cfg.BcryptCost), codec, identityservice.Options{
		SessionTTL:   cfg.SessionTTL(),
		ProofTTL:     cfg.ProofTTL(),
		StoreTimeout: cfg.StoreTimeout(),
		Broadcaster:  bus,
		Audit:        audit.NewLogger(events, logger),
		Logger:       logger,
	})

	if cfg.CleanupInProcess {
		j, err := janitor.New(sessions, cfg.CleanupSchedule, janitor.DefaultTimeout, logger)
		if err != nil {
			return err
		}
		j.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = j.Stop(sctx)
		}()
	}

	health := healthhandler.NewServer(pingers)
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, server.NewHTTPHandler(server.HTTPDeps{
		Auth:           identityhandler.New(auth, identityhandler.CookieConfig{Secure: cfg.CookieSecure}, logger).WithActivity(events),
		Health:         health,
		Gatherer:       reg,
		Logger:         logger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
	}))
	grpcSrv := server.NewGRPCServer(server.GRPCDeps{
		Health:         health,
		Resolver:       auth,
		Logger:         logger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		return err
	})

	err = g.Wait()
	dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := validator.Drain(dctx); derr != nil {
		logger.WithError(derr).Warn("session cleanup did not finish")
	}
	logger.Info("stopped")
	return err
}
