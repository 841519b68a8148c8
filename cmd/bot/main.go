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

	"github.com/joho/godotenv"

	"github.com/vucciaro/dealsbot/internal/cache"
	"github.com/vucciaro/dealsbot/internal/config"
	"github.com/vucciaro/dealsbot/internal/keepa"
	"github.com/vucciaro/dealsbot/internal/scheduler"
	"github.com/vucciaro/dealsbot/internal/storage"
	"github.com/vucciaro/dealsbot/internal/telegram"
)

func main() {
	slog.Info("Starting Vucciaro deals bot...")

	// A .env file is optional; real deployments use the environment.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Critical error initializing store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	source := keepa.New(cfg.KeepaAPIKey)
	publisher := telegram.New(cfg.TelegramBotToken, cfg.AmazonTag)
	batchCache := cache.New(cfg.CacheTTL)

	sched, err := scheduler.New(ctx, cfg, source, publisher, batchCache, store)
	if err != nil {
		slog.Error("Critical error initializing scheduler", "error", err)
		os.Exit(1)
	}

	httpServer := healthServer(cfg.Port)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server failed", "error", err)
		}
	}()

	sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown error", "error", err)
	}
	slog.Info("Bot stopped.")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return storage.NewMemoryStore(cfg.DedupTTL), nil
	case config.BackendSQLite:
		return storage.NewSQLiteStore(cfg.SQLitePath, cfg.DedupTTL)
	case config.BackendFirestore:
		return storage.NewFirestoreStore(ctx, cfg.ProjectID, cfg.DedupTTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func healthServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
