package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/config"
	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/handler"
	"github.com/akazancev/bankcore/internal/infra/cache"
	"github.com/akazancev/bankcore/internal/infra/identity"
	"github.com/akazancev/bankcore/internal/infra/memstore"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/infra/postgres"
	"github.com/akazancev/bankcore/internal/infra/resilience"
	"github.com/akazancev/bankcore/internal/port"
	"github.com/akazancev/bankcore/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("database_configured", cfg.DatabaseURL != ""),
		zap.Bool("user_service_configured", cfg.UserServiceURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("identity_cache_ttl", cfg.IdentityCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "bankcore")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	var store port.Store
	var ready func(context.Context) error

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pg, err := postgres.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		store = pg
		ready = pg.Ping
		logger.Info("using postgres storage backend")
	} else {
		store = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory storage; data will not survive a restart")
	}

	// --- Identity gate ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	var gate port.IdentityGate
	if cfg.UserServiceURL != "" {
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		cb := resilience.NewCircuitBreaker("user-service")
		gate = identity.NewHTTPGate(httpClient, cfg.UserServiceURL, cb, resilienceCfg)
		logger.Info("using user service for identity", zap.String("url", cfg.UserServiceURL))
	} else {
		gate = identity.NewJWTGate(cfg.JWTSecret)
		logger.Info("using local JWT verification for identity")
	}

	identCache := cache.New[domain.Identity](cfg.IdentityCacheTTL)

	// --- Services ---
	ledgerSvc := service.NewAccountLedger(store, metrics, logger)
	creditSvc := service.NewCreditLifecycle(store, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(ledgerSvc, creditSvc, gate, identCache, ready, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
