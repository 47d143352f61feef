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

	"github.com/ashureev/chatdesk/internal/api"
	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/conversation"
	"github.com/ashureev/chatdesk/internal/health"
	"github.com/ashureev/chatdesk/internal/history"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/live"
	"github.com/ashureev/chatdesk/internal/middleware"
	"github.com/ashureev/chatdesk/internal/quota"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/ashureev/chatdesk/internal/subscription"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live event stream and gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// app is the fully wired server, built separately from the listeners so
// it can be exercised in tests.
type app struct {
	cfg     *config.Config
	repo    *store.SQLiteStore
	chats   *conversation.Manager
	hub     *live.Hub
	limiter *middleware.RateLimiter
	router  chi.Router
}

func newApp(cfg *config.Config, repo *store.SQLiteStore, backend completion.Backend) (*app, error) {
	catalog, err := subscription.LoadCatalog(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}
	subs := subscription.NewSource(repo, catalog, cfg.Quota.FreeTierTokens)
	recorder := history.NewRecorder(repo)

	gw := completion.NewGateway(backend, nil, completion.GatewayConfig{
		DefaultCredential: cfg.Completion.APIKey,
		DefaultModel:      cfg.Completion.DefaultModel,
		Temperature:       cfg.Completion.Temperature,
		MaxTokens:         cfg.Completion.MaxTokens,
		Timeout:           cfg.Completion.Timeout,
	}, slog.Default())

	hub := live.NewHub()
	chats := conversation.NewManager(conversation.Deps{
		Gateway:   gw,
		Recorder:  recorder,
		Snapshots: repo,
		Notifier:  hub,
		Tracker:   quota.NewTracker(nil, cfg.Quota.Location),
		Logger:    slog.Default(),
	}, conversation.Config{
		DefaultModel:   cfg.Completion.DefaultModel,
		FreeTier:       subs.FreeTier(),
		HistoryTimeout: cfg.History.WriteTimeout,
	}, subs)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	sendLimit := middleware.RateLimit(limiter, func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	})

	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	api.NewHandler(repo, chats, recorder, subs).RegisterRoutes(r, sendLimit)
	r.Get("/ws/chats", live.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment()).ServeHTTP)

	return &app{
		cfg:     cfg,
		repo:    repo,
		chats:   chats,
		hub:     hub,
		limiter: limiter,
		router:  r,
	}, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	return repo, nil
}

func runServe(parent context.Context) error {
	parent = contextOrBackground(parent)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	repo, err := openRepository(parent, cfg)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	a, err := newApp(cfg, repo, completion.NewOpenAIBackend(cfg.Completion.BaseURL, nil))
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		return err
	}
	defer a.limiter.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // websocket streams are long-lived
		IdleTimeout:       120 * time.Second,
	}

	var hs *health.Server
	var lis net.Listener
	if cfg.GRPCPort != "" {
		lis, err = net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err)
			return err
		}
		hs = health.NewServer(repo, 0, slog.Default())
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if hs != nil {
		eg.Go(func() error { return hs.Serve(lis) })
		eg.Go(func() error {
			hs.Watch(egCtx)
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if hs != nil {
			hs.Stop()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	err = eg.Wait()
	a.chats.Wait()
	if err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
