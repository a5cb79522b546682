// Coordi - outfit dialogue server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/coordi/internal/api"
	"github.com/ashureev/coordi/internal/auth"
	"github.com/ashureev/coordi/internal/config"
	"github.com/ashureev/coordi/internal/convlog"
	"github.com/ashureev/coordi/internal/dialogue"
	"github.com/ashureev/coordi/internal/finalizer"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/identity"
	"github.com/ashureev/coordi/internal/middleware"
	"github.com/ashureev/coordi/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "api_base_url", cfg.APIBaseURL)

	// Initialize dependencies.
	repo, err := store.Open(cfg.CredentialStore, cfg.CredentialDBPath)
	if err != nil {
		slog.Error("Failed to initialize credential storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Credential storage health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Credential storage ready", "backend", cfg.CredentialStore)

	credentials := identity.NewContext(repo, logger)
	if err := credentials.Load(context.Background()); err != nil {
		slog.Error("Failed to load cached credential", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:    cfg.ConversationLog.Enabled,
		Dir:        cfg.ConversationLog.Dir,
		QueueSize:  cfg.ConversationLog.QueueSize,
		MaxSizeMB:  cfg.ConversationLog.MaxSizeMB,
		MaxBackups: cfg.ConversationLog.MaxBackups,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// The registry doubles as the gateway's navigator: a rejected credential
	// redirects every open stream and discards every session.
	registry := api.NewRegistry(cfg.SessionIdleTTL, api.RateLimit{
		PerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:     cfg.RateLimit.Burst,
	}, logger)
	defer registry.Close()

	gw := gateway.New(gateway.Options{
		BaseURL:   cfg.APIBaseURL,
		LoginPath: cfg.LoginPath,
		Timeout:   cfg.RequestTimeout,
	}, credentials, registry, logger)

	resolver, err := finalizer.NewURLResolver(cfg.ImageBaseURL, cfg.ImageStripPrefix)
	if err != nil {
		slog.Error("Failed to initialize image URL resolver", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	authHandler := api.NewAuthHandler(auth.NewClient(gw, credentials), registry)
	dialogueHandler := api.NewDialogueHandler(api.DialogueConfig{
		Reasoner:        dialogue.NewRemoteReasoner(gw),
		Finalizer:       finalizer.New(gw, resolver, logger),
		Credentials:     credentials,
		Registry:        registry,
		ConversationLog: conversationLogger,
		LoginPath:       cfg.LoginPath,
		Logger:          logger,
	}, api.NewStreamHandler(registry, cfg.AllowedOrigins(), logger))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r)
	dialogueHandler.RegisterRoutes(r)

	// Dialogue turns wait on the reasoning service and view streams are
	// long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
