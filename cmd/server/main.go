package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-addons/pkg/addons/api"
	"github.com/tendant/simple-addons/pkg/addons/auth"
	"github.com/tendant/simple-addons/pkg/addons/config"
)

func main() {
	help := flag.Bool("h", false, "print the environment variables and exit")
	flag.Parse()
	if *help {
		config.Usage(os.Stdout)
		return
	}

	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	svc, err := cfg.BuildService(context.Background(), logger)
	if err != nil {
		logger.Error("Failed to build service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if svc.TokenAuth == nil {
		logger.Warn("JWT_SECRET is not set, write routes are open and every request is anonymous")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           api.NewRouter(svc.Store, auth.JWTPermissions{}, svc.TokenAuth, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Add-on server starting", "port", cfg.Port, "environment", cfg.Environment,
			"postgres", cfg.UsesPostgres(), "upload_storage", cfg.UploadStorageURL, "cache_storage", cfg.CacheStorageURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Periodically remove files whose delayed deletion came due
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go drainDeleteQueue(ctx, svc, logger, time.Hour)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exiting")
}

func drainDeleteQueue(ctx context.Context, svc *config.Service, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.Files.ProcessDeleteQueue(ctx)
			if err != nil {
				logger.Warn("Failed to drain the file delete queue", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Drained file delete queue", "files_removed", n)
			}
		}
	}
}
