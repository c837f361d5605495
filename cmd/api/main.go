package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/punchamoorthee/egovportal/internal/api"
	"github.com/punchamoorthee/egovportal/internal/auth"
	"github.com/punchamoorthee/egovportal/internal/config"
	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/logging"
	"github.com/punchamoorthee/egovportal/internal/seed"
	"github.com/punchamoorthee/egovportal/internal/service"
	"github.com/punchamoorthee/egovportal/internal/store"
	"github.com/punchamoorthee/egovportal/internal/store/memory"
	"github.com/punchamoorthee/egovportal/internal/store/migrations"
	"github.com/punchamoorthee/egovportal/internal/store/supabase"
	"github.com/punchamoorthee/egovportal/internal/telemetry"
)

const serviceName = "egovportal-api"

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		logrus.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatal(err)
	}
	log := logger.WithField("service", serviceName)

	ctx := context.Background()
	shutdownTelemetry := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTLPInsecure, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	// Initialize Layers
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store init failed")
	}
	defer closeStore()

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.WithError(err).Fatal("auth init failed")
	}

	manager := service.NewManager(st, clock.WallClock, log)
	catalog := service.NewCatalog(st, clock.WallClock, log)
	limiter, err := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, clock.WallClock, cfg.TrustedProxies...)
	if err != nil {
		log.WithError(err).Fatal("rate limiter init failed")
	}
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	limiter.StartCleanup(cleanupCtx, time.Minute, cfg.RateLimitIdle)
	handler := api.NewHandler(manager, catalog, verifier, limiter, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(handler.Routes(), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"backend": cfg.Backend,
			"auth":    cfg.AuthMode,
			"env":     cfg.Env,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendSupabase:
		if cfg.RunMigrations {
			log.Warn("RUN_MIGRATIONS ignored for the supabase backend; apply migrations with the project's SQL editor or CLI")
		}
		client, err := supabase.NewClient(supabase.Config{
			URL:       cfg.SupabaseURL,
			APIKey:    cfg.SupabaseKey,
			Timeout:   cfg.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		})
		if err != nil {
			return nil, nil, err
		}
		return supabase.NewStore(client, log), func() {}, nil

	case config.BackendMemory:
		mem := memory.New()
		var roles []domain.UserRole
		if cfg.DemoAdminID != "" {
			roles = append(roles, domain.UserRole{UserID: cfg.DemoAdminID, Role: domain.RoleSuperAdmin})
		}
		seed.Memory(mem, roles)
		log.Warn("using in-memory backend; data is lost on restart")
		return mem, func() {}, nil

	default:
		pool, err := store.Connect(ctx, cfg.DBSource)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			db := stdlib.OpenDB(*pool.Config().ConnConfig)
			err := migrations.Apply(ctx, db)
			db.Close()
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			log.Info("migrations applied")
		}
		return store.NewPostgresStore(pool), pool.Close, nil
	}
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthMode == config.AuthSupabase {
		client, err := supabase.NewClient(supabase.Config{
			URL:       cfg.SupabaseURL,
			APIKey:    cfg.SupabaseKey,
			Timeout:   cfg.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		})
		if err != nil {
			return nil, err
		}
		return auth.NewSupabaseVerifier(client), nil
	}
	return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience, clock.WallClock), nil
}
