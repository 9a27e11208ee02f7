// Dspace Server
//
// Stores files as chunked attachments in a pool of Discord channels and keeps
// a per-user virtual directory describing them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/maazmalik2004/Dspace/internal/api"
	"github.com/maazmalik2004/Dspace/internal/auth"
	"github.com/maazmalik2004/Dspace/internal/channelpool"
	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/config"
	"github.com/maazmalik2004/Dspace/internal/discord"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/retrieval"
	"github.com/maazmalik2004/Dspace/internal/session"
	"github.com/maazmalik2004/Dspace/internal/store/factory"
	"github.com/maazmalik2004/Dspace/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Dspace server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageMode),
		zap.Int("channels", len(cfg.Channels)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Virtual directory store
	dirStore, err := factory.New(ctx, cfg)
	if err != nil {
		logging.Fatal("store init failed", zap.Error(err))
	}
	defer dirStore.Close()

	var authHandler *auth.Auth
	if pg, ok := dirStore.(*postgres.Store); ok {
		if dir := findMigrationsDir(); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := pg.Migrate(ctx, dir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		if cfg.DefaultPassword != "" {
			if err := pg.EnsureUser(ctx, cfg.DefaultUser, cfg.DefaultPassword); err != nil {
				logging.Error("failed to ensure default user", zap.Error(err))
			}
		}
		if cfg.AuthEnabled() {
			authHandler = auth.New(pg, cfg.JWTSecret, 0)
			logging.Info("token authentication enabled")
		}
	}

	// Transport: blocks until the bot session is up and every channel resolves.
	discordClient, err := discord.New(cfg.Token, discord.Options{
		Channels:           cfg.Channels,
		Timeout:            cfg.TransportTimeout,
		LoginBackoff:       time.Second,
		BackoffCoefficient: 2,
		MaxLoginBackoff:    time.Minute,
	})
	if err != nil {
		logging.Fatal("discord client init failed", zap.Error(err))
	}
	if err := discordClient.Login(ctx); err != nil {
		logging.Fatal("discord login failed", zap.Error(err))
	}

	pool, err := channelpool.New(cfg.Channels)
	if err != nil {
		logging.Fatal("channel pool init failed", zap.Error(err))
	}

	transfer, err := chunk.NewTransfer(discordClient, pool, chunk.Options{
		Host:        cfg.DiscordHost,
		ChunkSize:   cfg.ChunkSize,
		MaxAtomic:   cfg.MaxAtomic,
		Attempts:    cfg.UploadAttempts,
		Backoff:     cfg.UploadBackoff,
		Timeout:     cfg.TransportTimeout,
		Concurrency: cfg.TransferConcurrency,
	})
	if err != nil {
		logging.Fatal("chunk transfer init failed", zap.Error(err))
	}

	sess := session.New(dirStore, transfer, retrieval.New(transfer, cfg.FileConcurrency), session.Options{
		FileConcurrency: cfg.FileConcurrency,
		ArchiveDir:      cfg.ArchiveDir,
	})

	srv := api.NewServer(sess, authHandler, api.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		DefaultUser:   cfg.DefaultUser,
	})

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{"migrations", "../migrations"}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return ""
}
