// Quoteworks - seller-side quote response workspace server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/quoteworks/internal/api"
	"github.com/ashureev/quoteworks/internal/config"
	"github.com/ashureev/quoteworks/internal/health"
	"github.com/ashureev/quoteworks/internal/identity"
	"github.com/ashureev/quoteworks/internal/marketplace"
	"github.com/ashureev/quoteworks/internal/middleware"
	"github.com/ashureev/quoteworks/internal/store"
	"github.com/ashureev/quoteworks/internal/workspace"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// "healthcheck" probes a running server's gRPC health endpoint and exits.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheck(cfg))
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "draft_backend", cfg.DraftBackend)

	// Initialize dependencies.
	repo, err := store.Open(cfg)
	if err != nil {
		slog.Error("Failed to initialize draft store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Draft store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Draft store connected")

	// Drafts written before keys carried the seller cannot be attributed to anyone.
	deleted, err := repo.DeleteUnownedDrafts(context.Background())
	if err != nil {
		slog.Error("Failed to delete unowned drafts", "error", err)
		os.Exit(1)
	}
	slog.Info("Unowned draft cleanup complete", "drafts_deleted", deleted)

	market := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.Token, cfg.Marketplace.Timeout, logger)
	names := marketplace.NewManufacturerNames(market, repo, logger)

	mgr := workspace.NewManager(market, repo, workspace.Options{
		AutosaveInterval:  cfg.Workspace.AutosaveInterval,
		FlushOnClose:      cfg.Workspace.FlushOnClose,
		PollInterval:      cfg.Workspace.PollInterval,
		HighlightDuration: cfg.Workspace.HighlightDuration,
	}, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(mgr, names, logger)
	healthHandler := api.NewHealthHandler(repo, cfg.HealthTimeout)
	streamHandler := api.NewStreamHandler(mgr, cfg.FrontendURL, cfg.IsDevelopment())
	limiter := middleware.RateLimit(middleware.NewLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// Seller routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware())
		baseHandler.RegisterRoutes(r, limiter)
		r.Get("/ws/quotes/{quoteID}", streamHandler.ServeHTTP)
	})

	// Create server.
	// Note: workspace streams are long-lived websockets (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle workspace reaper.
	mgr.StartIdleReaper(ctx, cfg.Workspace.IdleTTL)

	var grpcHealth *health.Server
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			os.Exit(1)
		}
		grpcHealth = health.NewServer(repo, 0, cfg.HealthTimeout, logger)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Workspaces stop their timers; with flush on close enabled they write first.
	mgr.CloseAll()

	slog.Info("Server stopped successfully")
}

func runHealthcheck(cfg *config.Config) int {
	if cfg.GRPCHealthAddr == "" {
		fmt.Fprintln(os.Stderr, "GRPC_HEALTH_ADDR is not set")
		return 1
	}
	addr := cfg.GRPCHealthAddr
	if host, port, err := net.SplitHostPort(addr); err == nil && host == "" {
		addr = net.JoinHostPort("127.0.0.1", port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HealthTimeout)
	defer cancel()
	if err := health.Check(ctx, addr, health.ServiceName); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
