package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stk-push-gateway/config"
	httpHandler "stk-push-gateway/internal/adapter/http/handler"
	"stk-push-gateway/internal/adapter/http/middleware"
	"stk-push-gateway/internal/adapter/mpesa"
	"stk-push-gateway/internal/adapter/storage/memory"
	pgStorage "stk-push-gateway/internal/adapter/storage/postgres"
	redisStorage "stk-push-gateway/internal/adapter/storage/redis"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/internal/service"
	"stk-push-gateway/migrations"
	"stk-push-gateway/pkg/clock"
	"stk-push-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("provider_mode", cfg.Provider.Mode).
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Int("port", cfg.Server.Port).
		Msg("Starting STK push gateway")

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx := context.Background()
	clk := clock.Real()

	var (
		store          ports.TransactionStore
		auditSvc       ports.AuditService
		idempCache     ports.IdempotencyCache
		rateLimitStore middleware.RateLimitStore
		checkers       []ports.HealthChecker
	)

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		log.Info().Msg("PostgreSQL connected")

		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(ctx, pool, migrations.FS, log); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}

		store = pgStorage.NewTransactionRepo(pool)
		auditSvc = service.NewAuditService(pgStorage.NewAuditRepository(pool), logger.Component(log, "audit"))
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	default:
		store = memory.NewTransactionStore()
		log.Warn().Msg("Using in-memory transaction store; state is lost on restart")
	}

	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		idempCache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb, clk)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	notifyClient := &http.Client{Timeout: cfg.SideEffects.Timeout}
	dispatcher := service.NewDispatcherFromConfig(cfg.SideEffects, notifyClient, logger.Component(log, "side_effects"))
	callbacks := service.NewCallbackService(store, dispatcher, clk, logger.Component(log, "callbacks"))

	fetcher, provider, sim := buildProvider(cfg, callbacks, clk, log)
	tokens := service.NewTokenCache(fetcher, clk, cfg.Provider.TokenSafetyMargin, cfg.Provider.Simulated(), logger.Component(log, "token_cache"))
	signer := service.NewSTKSigner(cfg.Provider.ShortCode, cfg.Provider.PassKey, clk)

	paymentSvc := service.NewPaymentService(store, tokens, signer, provider, idempCache, clk, service.PushConfig{
		ShortCode:        cfg.Provider.ShortCode,
		TransactionType:  cfg.Provider.TransactionType,
		CallbackURL:      cfg.Provider.CallbackURL,
		AccountReference: cfg.Provider.AccountReference,
		RequestTimeout:   cfg.Provider.RequestTimeout,
	}, logger.Component(log, "payments"))
	statusSvc := service.NewStatusService(store, tokens, signer, provider, callbacks, clk,
		cfg.Provider.RequestTimeout, logger.Component(log, "status"))

	var tokenSvc ports.TokenService
	if cfg.JWT.Secret != "" {
		tokenSvc = service.NewJWTTokenService(cfg.JWT, clk)
	} else {
		log.Warn().Msg("jwt.secret not set; collaborator routes are unauthenticated")
	}

	specBytes, err := os.ReadFile("docs/api/openapi.yaml")
	if err != nil {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		StatusSvc:      statusSvc,
		Callbacks:      callbacks,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		AuditSvc:       auditSvc,
		HealthCheckers: checkers,
		SwaggerSpec:    specBytes,
		Clock:          clk,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if sim != nil {
		if n := sim.Pending(); n > 0 {
			log.Warn().Int("pending", n).Msg("Dropping undelivered simulated callbacks")
		}
		sim.Close()
	}
	dispatcher.Wait()

	log.Info().Msg("Server exited")
}

// buildProvider selects token fetcher and push provider for the configured mode.
// The simulator is returned so it can be stopped on shutdown; it is nil in live mode.
func buildProvider(cfg *config.Config, callbacks ports.CallbackProcessor, clk clock.Clock, log zerolog.Logger) (ports.TokenFetcher, ports.PushProvider, *service.Simulator) {
	if cfg.Provider.Mode == config.ModeSimulation {
		sim := service.NewSimulator(callbacks, cfg.Simulation, clk, nil, logger.Component(log, "simulator"))
		log.Info().Msg("Provider simulation enabled; no traffic reaches M-Pesa")
		return sim, sim, sim
	}

	httpClient := &http.Client{Timeout: cfg.Provider.RequestTimeout}
	breaker := mpesa.NewBreaker(cfg.Breaker, logger.Component(log, "breaker"))
	client := mpesa.NewClient(cfg.Provider, httpClient, breaker, clk, logger.Component(log, "mpesa"))

	if cfg.Provider.Mode == config.ModeLive {
		return client, client, nil
	}

	sim := service.NewSimulator(callbacks, cfg.Simulation, clk, nil, logger.Component(log, "simulator"))
	return client, service.NewFallbackProvider(client, sim, logger.Component(log, "fallback")), sim
}
