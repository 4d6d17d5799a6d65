package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lessongate/lessongate/internal/config"
	"github.com/lessongate/lessongate/internal/database"
	"github.com/lessongate/lessongate/internal/lesson"
	"github.com/lessongate/lessongate/internal/server"
	"github.com/lessongate/lessongate/internal/storage"
	"github.com/lessongate/lessongate/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lesson API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	slog.Info("database migrations applied")

	srvCfg := server.Config{
		DB:              db.Pool,
		Pinger:          db.Pool,
		Webhooks:        webhook.New(db.Pool),
		JWTSecret:       cfg.JWTSecret,
		BaseURL:         cfg.BaseURL,
		AllowedOrigins:  cfg.AllowedOrigins,
		RequirementsTTL: cfg.RequirementsCacheTTL,
		ProgressRate:    cfg.ProgressRate,
		ProgressBurst:   cfg.ProgressBurst,
	}
	settings := lesson.NewPlayerSettings(cfg.Player, cfg.TrustInferredProgress)
	srvCfg.Player = &settings

	if cfg.Storage.Bucket != "" {
		store, err := storage.New(startupCtx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("storage setup failed: %w", err)
		}
		if err := store.EnsureBucket(startupCtx); err != nil {
			slog.Warn("storage: bucket check failed", "bucket", cfg.Storage.Bucket, "error", err)
		}
		if len(cfg.AllowedOrigins) > 0 {
			if err := store.AllowPlayback(startupCtx, cfg.AllowedOrigins); err != nil {
				slog.Warn("storage: could not set bucket CORS", "error", err)
			}
		}
		srvCfg.Storage = store
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(startupCtx).Err(); err != nil {
			slog.Warn("redis unreachable, requirements will be read from the database until it recovers", "error", err)
		}
		srvCfg.Redis = rdb
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	go srv.RunMaintenance(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lessongate listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
