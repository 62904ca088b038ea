package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/totegamma/aswan/internal/config"
	"github.com/totegamma/aswan/internal/domain"
	"github.com/totegamma/aswan/internal/infra/database"
	"github.com/totegamma/aswan/internal/infra/gateway"
	"github.com/totegamma/aswan/internal/infra/idempotency"
	"github.com/totegamma/aswan/internal/infra/metrics"
	"github.com/totegamma/aswan/internal/infra/repository"
	"github.com/totegamma/aswan/internal/infra/tracing"
	"github.com/totegamma/aswan/internal/present/rest"
	authmw "github.com/totegamma/aswan/internal/present/rest/middleware"
	"github.com/totegamma/aswan/internal/service"
	"github.com/totegamma/aswan/internal/usecase"
)

const defaultConfigPath = "/etc/aswan/config.yaml"

func main() {
	configPath := os.Getenv("ASWAN_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	conf, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// aswan token <developer-id> [ttl]
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(issueToken(conf, os.Args[2:]))
	}

	if err := serve(conf); err != nil {
		slog.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func issueToken(conf config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: aswan token <developer-id> [ttl]")
		return 2
	}
	ttl := 24 * time.Hour
	if len(args) > 1 {
		parsed, err := time.ParseDuration(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid ttl:", err)
			return 2
		}
		ttl = parsed
	}

	auth := service.NewAuthService(conf.ToDomain(), conf.Server.SessionSecret)
	token, err := auth.IssueToken(args[0], ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(token)
	return 0
}

func serve(conf config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	domainConfig := conf.ToDomain()

	if conf.Server.EnableTrace {
		shutdown, err := tracing.Setup(ctx, "aswan", conf.Server.TraceEndpoint)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	var repo usecase.CredentialRepository
	if conf.Server.PostgresDsn != "" {
		db, err := database.NewPostgres(conf.Server.PostgresDsn)
		if err != nil {
			return err
		}
		if err := database.MigratePostgres(db); err != nil {
			return err
		}
		repo = repository.NewCredentialRepository(db)
	} else {
		slog.Warn("postgresDsn not set, credentials are kept in memory only", slog.String("module", domain.ModuleRegistry))
	}

	var rdb *redis.Client
	if conf.Server.RedisAddr != "" {
		rdb = database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
		defer rdb.Close()
		if err := database.PingRedis(ctx, rdb); err != nil {
			return err
		}
	}

	var store usecase.IdempotencyStore
	switch conf.Server.IdempotencyBackend {
	case config.BackendRedis:
		store = idempotency.NewRedisStore(rdb, conf.IdempotencyTTL())
	case config.BackendMemcached:
		store = idempotency.NewMemcachedStore(database.NewMemcached(conf.Server.MemcachedAddr), conf.IdempotencyTTL())
	default:
		store = idempotency.NewMemoryStore(conf.IdempotencyTTL())
	}

	registry := usecase.NewCredentialRegistry(domainConfig, repo)
	if err := registry.Load(ctx); err != nil {
		return err
	}

	engine := gateway.NewDecisionEngineClient(conf.DecisionEngine.Endpoint, gateway.Options{
		Timeout:          conf.DecisionEngine.TimeoutDuration(),
		FailureThreshold: conf.DecisionEngine.FailureThreshold,
		OpenTimeout:      conf.DecisionEngine.OpenTimeoutDuration(),
	})

	meter := metrics.New(func() domain.CredentialStats {
		return registry.Stats(context.Background(), "")
	})

	opts := []usecase.GatewayOption{
		usecase.WithAbusePolicy(usecase.NewAbusePolicy(domainConfig.RateLimit, domainConfig.RateBurst)),
		usecase.WithObserver(meter),
	}

	var signalService *service.SignalService
	if rdb != nil {
		signalService = service.NewSignalService(rdb)
		opts = append(opts, usecase.WithUsageNotifier(signalService))
	}

	verificationGateway := usecase.NewVerificationGateway(
		domainConfig,
		registry,
		usecase.NewSignatureVerifier(domainConfig.FreshnessWindow),
		store,
		engine,
		opts...,
	)

	authService := service.NewAuthService(domainConfig, conf.Server.SessionSecret)
	authMiddleware := authmw.NewAuthMiddleware(authService, domainConfig)

	e := echo.New()
	e.HideBanner = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("aswan"))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(authMiddleware.IdentifyDeveloper)

	handler := rest.NewHandler(domainConfig, verificationGateway, registry, signalService, meter.Handler())
	handler.RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("aswan listening", slog.String("addr", conf.Server.ListenAddr), slog.String("module", domain.ModuleRest))
		if err := e.Start(conf.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
