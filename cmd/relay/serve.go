package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/billing-relay/config"
	"github.com/vnmchuo/billing-relay/internal/arm"
	"github.com/vnmchuo/billing-relay/internal/auth"
	"github.com/vnmchuo/billing-relay/internal/logging"
	"github.com/vnmchuo/billing-relay/internal/relay"
	"github.com/vnmchuo/billing-relay/internal/telemetry"
	"github.com/vnmchuo/billing-relay/pkg/ratelimit"
)

// setup loads config and builds the relay shared by serve and query.
func setup(ctx context.Context) (*config.Config, *relay.Relay, arm.Catalog, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: serviceName,
	})

	catalog, err := arm.LoadCatalog(cfg.QueryCatalogFile, cfg.CostQueryType)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load query catalog: %w", err)
	}

	var transport http.RoundTripper
	if cfg.MockMode {
		log.Warn().Msg("mock mode enabled, Azure Resource Manager will not be called")
		transport = arm.NewMockTransport()
	} else {
		transport = arm.NewTransport(arm.NewResolver(ctx, cfg.DNSCacheTTL))
	}

	client := arm.NewClient(cfg.ARMBaseURL, transport)
	return cfg, relay.New(client), catalog, nil
}

func runServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load config, logging, upstream client
	cfg, rl, catalog, err := setup(ctx)
	if err != nil {
		return err
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, Version, cfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()

	// 3. Connect Redis (optional)
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Int64("per_minute", cfg.RateLimitPerMinute).Msg("Redis connected, rate limiting enabled")
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute)
	}

	// 4. Init handler
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	handler := relay.NewHandler(rl, catalog, limiter, tracer, cfg.DefaultSubscription)

	// 5. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("upstream", cfg.ARMBaseURL).Msg("Billing relay starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func newRouter(handler *relay.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(logging.AccessLog)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"billing-relay"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware())
		r.Get("/api/GetSubscriptions", handler.HandleSubscriptions)
		r.Get("/api/GetBillingData", handler.HandleSubscriptionCost)
		r.Get("/api/GetTenantBillingData", handler.HandleTenantCost)
		r.Get("/api/GetDailyCost", handler.HandleDailyCost)
		r.Get("/api/query/{name}", handler.HandleQuery)
	})

	return r
}
